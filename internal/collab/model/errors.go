package model

import "errors"

// Shared error taxonomy. Handlers and the gateway map these onto HTTP
// statuses / close reasons; the engine returns them as-is.
var (
	ErrForbidden           = errors.New("forbidden")
	ErrSessionFull         = errors.New("session is full")
	ErrApprovalRequired    = errors.New("approval required: missing or invalid invite token")
	ErrNotConnected        = errors.New("collaborator is not connected")
	ErrInvalidTarget       = errors.New("edit target does not resolve to a document path")
	ErrInvalidSettings     = errors.New("invalid session settings")
	ErrSessionClosed       = errors.New("session is closed")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrUnknownSession      = errors.New("unknown session")
	ErrUnknownCollaborator = errors.New("unknown collaborator")
)
