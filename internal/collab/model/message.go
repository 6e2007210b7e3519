package model

import "encoding/json"

// Wire message types. Everything the gateway sends or receives is a
// Message envelope; Data holds a type-specific payload.
const (
	MsgStateSync          = "state_sync"
	MsgEdit               = "edit"
	MsgEditApplied        = "edit_applied"
	MsgEditRejected       = "edit_rejected"
	MsgConflictDetected   = "conflict_detected"
	MsgCollaboratorJoined = "collaborator_joined"
	MsgCollaboratorLeft   = "collaborator_left"
	MsgRoleUpdated        = "role_updated"
	MsgRemixPublished     = "remix_published"
	MsgSessionClosed      = "session_closed"
	MsgCursor             = "cursor"
	MsgHeartbeat          = "heartbeat"
	MsgError              = "error"
)

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewMessage(msgType string, data any) Message {
	b, _ := json.Marshal(data)
	return Message{Type: msgType, Data: b}
}

// AppliedEdit is the payload of every edit_applied message: the full action
// plus the submitter's assigned display color.
type AppliedEdit struct {
	Edit  EditAction `json:"edit"`
	Color string     `json:"color"`
}

// ConflictNotice goes only to the submitter of a rejected edit.
type ConflictNotice struct {
	Edit      EditAction       `json:"edit"`
	Conflicts []EditAction     `json:"conflicts"`
	Strategy  ConflictStrategy `json:"strategy"`
	Reason    string           `json:"reason,omitempty"`
}

type RoleUpdate struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

type CursorUpdate struct {
	UserID    string `json:"user_id"`
	SectionID string `json:"section_id"`
	LineID    string `json:"line_id,omitempty"`
	Offset    int    `json:"offset"`
}
