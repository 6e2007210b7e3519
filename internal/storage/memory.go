package storage

import "sync"

type snapshot struct {
	version int64
	content []byte
}

// Memory keeps snapshots in a map. Used by tests and by sessions that run
// without a database.
type Memory struct {
	mu    sync.RWMutex
	snaps map[string]snapshot
}

func NewMemory() *Memory {
	return &Memory{snaps: make(map[string]snapshot)}
}

func (m *Memory) SaveSnapshot(documentID string, version int64, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(content))
	copy(buf, content)
	m.snaps[documentID] = snapshot{version: version, content: buf}
	return nil
}

func (m *Memory) LoadSnapshot(documentID string) ([]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[documentID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	buf := make([]byte, len(s.content))
	copy(buf, s.content)
	return buf, s.version, nil
}
