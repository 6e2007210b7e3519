package repository

import (
	"database/sql"

	"storyforge/internal/catalog/model"
	"storyforge/pkg/logger"
)

type CatalogRepository struct {
	DB *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{DB: db}
}

func (r *CatalogRepository) Create(id, ownerID, title string) error {
	_, err := r.DB.Exec(`INSERT INTO documents (id, title, owner_id, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW())`,
		id, title, ownerID)
	if err != nil {
		logger.Sugar.Errorf("Failed to create document %s: %v", id, err)
	}
	return err
}

func (r *CatalogRepository) GetOwnerID(docID string) (string, error) {
	var ownerID string
	err := r.DB.QueryRow("SELECT owner_id FROM documents WHERE id = $1", docID).Scan(&ownerID)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get owner for doc %s: %v", docID, err)
	}
	return ownerID, err
}

func (r *CatalogRepository) Get(docID string) (model.DocumentMetadata, error) {
	var doc model.DocumentMetadata
	err := r.DB.QueryRow(`
		SELECT d.id, d.title, d.owner_id, d.updated_at, COALESCE(s.version, 0)
		FROM documents d LEFT JOIN snapshots s ON s.document_id = d.id
		WHERE d.id = $1`, docID).
		Scan(&doc.ID, &doc.Title, &doc.OwnerID, &doc.UpdatedAt, &doc.Version)
	if err != nil && err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to get doc %s: %v", docID, err)
	}
	return doc, err
}

func (r *CatalogRepository) Rename(docID, title, ownerID string) (int64, error) {
	result, err := r.DB.Exec("UPDATE documents SET title = $1, updated_at = NOW() WHERE id = $2 AND owner_id = $3",
		title, docID, ownerID)
	if err != nil {
		logger.Sugar.Errorf("Failed to rename doc %s: %v", docID, err)
		return 0, err
	}
	return result.RowsAffected()
}

func (r *CatalogRepository) Delete(docID string) error {
	_, err := r.DB.Exec("DELETE FROM documents WHERE id = $1", docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete doc %s: %v", docID, err)
	}
	return err
}

func (r *CatalogRepository) ListByUser(userID string) ([]model.DocumentMetadata, error) {
	rows, err := r.DB.Query(`
		SELECT d.id, d.title, d.owner_id, d.updated_at, COALESCE(s.version, 0)
		FROM documents d LEFT JOIN snapshots s ON s.document_id = d.id
		WHERE d.owner_id = $1
		ORDER BY d.updated_at DESC`, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents for user %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	docs := []model.DocumentMetadata{}
	for rows.Next() {
		var doc model.DocumentMetadata
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.OwnerID, &doc.UpdatedAt, &doc.Version); err != nil {
			continue
		}
		doc.IsOwner = true
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
