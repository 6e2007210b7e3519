package engine

import (
	"sync"

	"storyforge/internal/collab/model"
)

// Effects is the single outbound surface the engine touches after a
// transaction commits. The gateway hub implements it; tests install a
// recorder. Implementations must never block: slow consumers are the
// gateway's problem, not the edit pipeline's.
type Effects interface {
	// Broadcast fans a message out to every active collaborator in the
	// session. exceptUserID skips one member when non-empty.
	Broadcast(sessionID, exceptUserID string, msg model.Message)
	// SendTo delivers a message to a single collaborator.
	SendTo(sessionID, userID string, msg model.Message)
}

type nopEffects struct{}

func (nopEffects) Broadcast(string, string, model.Message) {}
func (nopEffects) SendTo(string, string, model.Message)    {}

// TokenValidator checks invite tokens for approval-gated sessions. The
// engine trusts its verdict (identity is an external collaborator).
type TokenValidator interface {
	Validate(sessionID, token string) bool
}

// ChangeRecorder receives every applied edit, keyed by document. The
// lineage tracker implements it to mirror edits into a remix's change list.
type ChangeRecorder interface {
	RecordApplied(documentID string, edit model.EditAction)
}

// SessionRepo is the arena of live sessions keyed by id. The in-memory
// implementation below is the only one the engine ships; the interface
// keeps the manager testable and the backing swappable.
type SessionRepo interface {
	Get(id string) (*Session, bool)
	Put(s *Session)
	Delete(id string)
}

type MemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]*Session)}
}

func (r *MemoryRepo) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *MemoryRepo) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *MemoryRepo) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
