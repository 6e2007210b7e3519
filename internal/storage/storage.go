package storage

import "errors"

var ErrNotFound = errors.New("storage: snapshot not found")

// Store persists document snapshots. Auto-save writes through it and remix
// forking reads from it; the engine never depends on a concrete backend.
type Store interface {
	SaveSnapshot(documentID string, version int64, content []byte) error
	LoadSnapshot(documentID string) (content []byte, version int64, err error)
}
