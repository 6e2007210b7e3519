package engine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/collab/model"
	"storyforge/internal/notify"
	"storyforge/internal/storage"
	"storyforge/pkg/logger"
)

// Manager owns the arena of live sessions. It is an explicit service
// object: storage, notifier, token validation and the clock are injected
// at construction, and there is no package-level instance.
type Manager struct {
	repo     SessionRepo
	store    storage.Store
	notifier notify.Notifier
	effects  Effects
	auth     TokenValidator
	recorder ChangeRecorder
	now      func() time.Time
}

func NewManager(repo SessionRepo, store storage.Store, notifier notify.Notifier, auth TokenValidator, now func() time.Time) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		repo:     repo,
		store:    store,
		notifier: notifier,
		effects:  nopEffects{},
		auth:     auth,
		now:      now,
	}
}

// SetEffects installs the outbound fan-out sink. The hub is constructed
// after the manager, so this runs once during startup wiring.
func (m *Manager) SetEffects(e Effects) {
	if e != nil {
		m.effects = e
	}
}

// SetRecorder installs the lineage change recorder.
func (m *Manager) SetRecorder(r ChangeRecorder) {
	m.recorder = r
}

// CreateSession starts a new session actor with the host as sole owner.
// The document is loaded from the snapshot store when one exists,
// otherwise a fresh empty document is created.
func (m *Manager) CreateSession(documentID, hostID string, settings model.SessionSettings) (model.SessionInfo, error) {
	if settings.MaxCollaborators < 1 {
		return model.SessionInfo{}, model.ErrInvalidSettings
	}
	if settings.Strategy == "" {
		settings.Strategy = model.StrategyLastWriteWins
	}
	if settings.VersionInterval <= 0 {
		settings.VersionInterval = 10 * time.Second
	}
	if documentID == "" {
		documentID = uuid.NewString()
	}

	doc, version := m.loadDocument(documentID)

	s := &Session{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		HostID:     hostID,
		mgr:        m,
		cmds:       make(chan func(), 64),
		closed:     make(chan struct{}),
		status:     model.StatusActive,
		settings:   settings,
		doc:        doc,
		version:    version,
	}
	s.addCollaborator(hostID, model.RoleOwner, true)

	m.repo.Put(s)
	go s.run()

	logger.Sugar.Infof("Created session %s for document %s (host %s)", s.ID, documentID, hostID)
	return s.info(), nil
}

func (m *Manager) loadDocument(documentID string) (*model.Document, int64) {
	content, version, err := m.store.LoadSnapshot(documentID)
	if err != nil {
		if err != storage.ErrNotFound {
			// Storage failures are never fatal; start from an empty
			// document and let auto-save repair the snapshot.
			logger.Sugar.Errorf("Failed to load snapshot for doc %s: %v", documentID, err)
		}
		return model.NewDocument(documentID, ""), 0
	}
	var doc model.Document
	if err := json.Unmarshal(content, &doc); err != nil {
		logger.Sugar.Errorf("Corrupt snapshot for doc %s: %v", documentID, err)
		return model.NewDocument(documentID, ""), 0
	}
	if doc.ID == "" {
		doc.ID = documentID
	}
	return &doc, version
}

func (m *Manager) session(sessionID string) (*Session, error) {
	s, ok := m.repo.Get(sessionID)
	if !ok {
		return nil, model.ErrUnknownSession
	}
	return s, nil
}

// Join admits a collaborator. The invite token is only consulted when the
// session requires approval.
func (m *Manager) Join(sessionID, userID, inviteToken string) (*model.StateSync, error) {
	return m.JoinAttached(sessionID, userID, inviteToken, nil)
}

// JoinAttached admits a collaborator and runs attach inside the session
// actor turn, after the state snapshot is captured. Snapshot capture and
// routing membership change atomically: every edit applied after the
// snapshot reaches whatever attach registered, no more and no less.
func (m *Manager) JoinAttached(sessionID, userID, inviteToken string, attach func(*model.StateSync)) (*model.StateSync, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	approved := m.auth != nil && inviteToken != "" && m.auth.Validate(sessionID, inviteToken)
	return s.Join(userID, approved, attach)
}

func (m *Manager) Leave(sessionID, userID string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return s.Leave(userID)
}

func (m *Manager) SetRole(sessionID, targetID string, role model.Role, requesterID string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return s.SetRole(targetID, role, requesterID)
}

func (m *Manager) Submit(sessionID, userID string, edit model.EditAction) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return s.Submit(userID, edit)
}

func (m *Manager) Info(sessionID string) (model.SessionInfo, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return model.SessionInfo{}, err
	}
	return s.Info()
}

func (m *Manager) Snapshot(sessionID string) (*model.StateSync, error) {
	s, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Snapshot()
}

func (m *Manager) Pause(sessionID string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return s.Pause()
}

func (m *Manager) Resume(sessionID string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return s.Resume()
}

func (m *Manager) Complete(sessionID string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return s.Complete()
}

func (m *Manager) Cancel(sessionID string) error {
	s, err := m.session(sessionID)
	if err != nil {
		return err
	}
	return s.Cancel()
}
