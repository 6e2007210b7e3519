package model

// Request/response shapes for the REST surface.

type CreateSessionRequest struct {
	DocumentID string           `json:"document_id"`
	Title      string           `json:"title,omitempty"`
	Settings   *SessionSettings `json:"settings,omitempty"`
}

type CreateSessionResponse struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
}

type SetRoleRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
}

type ForkRequest struct {
	DocumentID        string `json:"document_id"`
	Visibility        string `json:"visibility,omitempty"`
	AllowFurtherRemix bool   `json:"allow_further_remix"`
}

type ForkResponse struct {
	RemixID    string `json:"remix_id"`
	DocumentID string `json:"document_id"`
	Depth      int    `json:"depth"`
}
