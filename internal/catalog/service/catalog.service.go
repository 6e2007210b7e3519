package service

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	catalogmodel "storyforge/internal/catalog/model"
	"storyforge/internal/catalog/repository"
	"storyforge/internal/collab/model"
	"storyforge/internal/lineage"
	"storyforge/internal/storage"
)

var (
	ErrNotFound = errors.New("catalog: document not found")
	ErrNotOwner = errors.New("catalog: only the owner may do this")
)

// CatalogService owns the document registry. It seeds the snapshot store
// and the lineage tracker on create, so a freshly registered document can be
// opened in a session or forked immediately.
type CatalogService struct {
	Repo    *repository.CatalogRepository
	Store   storage.Store
	Lineage *lineage.Tracker
}

func NewCatalogService(repo *repository.CatalogRepository, store storage.Store, tracker *lineage.Tracker) *CatalogService {
	return &CatalogService{Repo: repo, Store: store, Lineage: tracker}
}

func (s *CatalogService) CreateDocument(userID, title string) (string, error) {
	if title == "" {
		title = "Untitled Document"
	}
	docID := uuid.NewString()

	if err := s.Repo.Create(docID, userID, title); err != nil {
		return "", err
	}

	// An empty snapshot makes the document immediately openable.
	content, err := json.Marshal(model.NewDocument(docID, title))
	if err != nil {
		return "", err
	}
	if err := s.Store.SaveSnapshot(docID, 0, content); err != nil {
		return "", err
	}
	s.Lineage.Register(docID)
	return docID, nil
}

func (s *CatalogService) GetDocument(docID string) (catalogmodel.DocumentMetadata, error) {
	doc, err := s.Repo.Get(docID)
	if err == sql.ErrNoRows {
		return catalogmodel.DocumentMetadata{}, ErrNotFound
	}
	return doc, err
}

func (s *CatalogService) ListDocuments(userID string) ([]catalogmodel.DocumentMetadata, error) {
	return s.Repo.ListByUser(userID)
}

func (s *CatalogService) RenameDocument(docID, userID, title string) error {
	rowsAffected, err := s.Repo.Rename(docID, title, userID)
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if _, err := s.Repo.GetOwnerID(docID); err == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrNotOwner
	}
	return nil
}

func (s *CatalogService) DeleteDocument(docID, userID string) error {
	ownerID, err := s.Repo.GetOwnerID(docID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if ownerID != userID {
		return ErrNotOwner
	}
	return s.Repo.Delete(docID)
}
