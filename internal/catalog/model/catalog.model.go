package model

import "time"

type CreateDocumentRequest struct {
	Title string `json:"title"`
}

type CreateDocumentResponse struct {
	DocumentID string `json:"document_id"`
}

type RenameRequest struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
}

// DocumentMetadata is the catalog row: ownership and the latest persisted
// snapshot version. Live session state never flows through the catalog.
type DocumentMetadata struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"owner_id"`
	IsOwner   bool      `json:"is_owner"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
