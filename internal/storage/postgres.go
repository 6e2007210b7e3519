package storage

import (
	"database/sql"

	"storyforge/pkg/logger"
)

// Postgres stores one row per document in a snapshots table, upserted on
// every save.
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

func (p *Postgres) SaveSnapshot(documentID string, version int64, content []byte) error {
	_, err := p.DB.Exec(`INSERT INTO snapshots (document_id, version, content, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (document_id) DO UPDATE SET version = $2, content = $3, updated_at = NOW()`,
		documentID, version, content)
	if err != nil {
		logger.Sugar.Errorf("Failed to save snapshot for doc %s (v%d): %v", documentID, version, err)
	}
	return err
}

func (p *Postgres) LoadSnapshot(documentID string) ([]byte, int64, error) {
	var content []byte
	var version int64
	err := p.DB.QueryRow("SELECT content, version FROM snapshots WHERE document_id = $1", documentID).
		Scan(&content, &version)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to load snapshot for doc %s: %v", documentID, err)
		return nil, 0, err
	}
	return content, version, nil
}
