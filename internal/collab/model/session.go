package model

import "time"

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the session has ended and may be released.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type ConflictStrategy string

const (
	StrategyLastWriteWins  ConflictStrategy = "last-write-wins"
	StrategyFirstWriteWins ConflictStrategy = "first-write-wins"
	StrategyMerge          ConflictStrategy = "merge"
)

type SessionSettings struct {
	MaxCollaborators int              `json:"max_collaborators"`
	AllowSpectators  bool             `json:"allow_spectators"`
	AutoSaveEnabled  bool             `json:"auto_save_enabled"`
	RequireApproval  bool             `json:"require_approval"`
	Strategy         ConflictStrategy `json:"conflict_strategy"`
	VersionInterval  time.Duration    `json:"version_interval_ms"`
}

func DefaultSettings() SessionSettings {
	return SessionSettings{
		MaxCollaborators: 8,
		AllowSpectators:  true,
		AutoSaveEnabled:  true,
		Strategy:         StrategyLastWriteWins,
		VersionInterval:  10 * time.Second,
	}
}

type Collaborator struct {
	UserID      string      `json:"user_id"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
	JoinedAt    time.Time   `json:"joined_at"`
	IsActive    bool        `json:"is_active"`
	Color       string      `json:"color"`
}

// SessionInfo is a point-in-time copy of session state, safe to hand out
// across the actor boundary.
type SessionInfo struct {
	ID            string          `json:"id"`
	DocumentID    string          `json:"document_id"`
	HostID        string          `json:"host_id"`
	Status        SessionStatus   `json:"status"`
	Settings      SessionSettings `json:"settings"`
	Version       int64           `json:"version"`
	Collaborators []Collaborator  `json:"collaborators"`
}

// StateSync is the full snapshot sent to a collaborator on join. It is the
// only payload allowed to bypass the edit-ordering pipeline.
type StateSync struct {
	Session  SessionInfo  `json:"session"`
	Document *Document    `json:"document"`
	History  []EditAction `json:"history"`
}
