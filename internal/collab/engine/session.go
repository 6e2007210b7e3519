package engine

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"storyforge/internal/collab/model"
	"storyforge/pkg/logger"
)

const (
	// maxHistory bounds the in-memory applied-edit log; conflict detection
	// and state-sync only ever need the recent tail.
	maxHistory = 1000
	// recentHistory is how many applied edits a joining collaborator gets.
	recentHistory = 50
)

// Session is a single-threaded actor owning one document, its collaborator
// set, pending queue and applied history. Every entry point funnels through
// the command channel, so two concurrent submissions never race on document
// state.
type Session struct {
	ID         string
	DocumentID string
	HostID     string

	mgr *Manager

	cmds   chan func()
	closed chan struct{}

	// Everything below is owned by the run loop.
	status        model.SessionStatus
	settings      model.SessionSettings
	collaborators []*model.Collaborator
	doc           *model.Document
	version       int64
	pending       []model.EditAction
	history       []model.EditAction
	dirty         bool
	joinSeq       int
}

// do runs fn on the session goroutine and waits for it to finish.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
	case <-s.closed:
		return model.ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.closed:
		return model.ErrSessionClosed
	}
}

func (s *Session) run() {
	defer func() {
		close(s.closed)
		s.mgr.repo.Delete(s.ID)
		logger.Sugar.Infof("Session %s released (status: %s)", s.ID, s.status)
	}()

	var tick <-chan time.Time
	if s.settings.AutoSaveEnabled {
		ticker := time.NewTicker(s.settings.VersionInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case fn := <-s.cmds:
			fn()
			if s.status.Terminal() {
				return
			}
		case <-tick:
			if s.status.Terminal() {
				return
			}
			if s.status == model.StatusActive {
				s.autosave()
			}
		}
	}
}

// --- membership ---

func (s *Session) find(userID string) *model.Collaborator {
	for _, c := range s.collaborators {
		if c.UserID == userID {
			return c
		}
	}
	return nil
}

func (s *Session) nonSpectators() int {
	n := 0
	for _, c := range s.collaborators {
		if c.Role != model.RoleSpectator {
			n++
		}
	}
	return n
}

func (s *Session) addCollaborator(userID string, role model.Role, active bool) *model.Collaborator {
	c := &model.Collaborator{
		UserID:      userID,
		Role:        role,
		Permissions: role.Permissions(),
		JoinedAt:    s.mgr.now(),
		IsActive:    active,
		Color:       model.ColorFor(s.joinSeq),
	}
	s.joinSeq++
	s.collaborators = append(s.collaborators, c)
	return c
}

func (s *Session) join(userID string, approved bool) (*model.StateSync, error) {
	if s.status.Terminal() {
		return nil, model.ErrSessionClosed
	}

	// Rejoin is idempotent: an existing collaborator is simply marked
	// active again. Capacity and approval are not re-checked; the slot was
	// never given up.
	if c := s.find(userID); c != nil {
		c.IsActive = true
		s.announceJoin(c)
		return s.stateSync(), nil
	}

	if s.settings.RequireApproval && !approved {
		return nil, model.ErrApprovalRequired
	}

	role := model.RoleEditor
	if s.nonSpectators() >= s.settings.MaxCollaborators {
		if !s.settings.AllowSpectators {
			return nil, model.ErrSessionFull
		}
		role = model.RoleSpectator
	}

	c := s.addCollaborator(userID, role, true)
	s.announceJoin(c)
	return s.stateSync(), nil
}

func (s *Session) announceJoin(c *model.Collaborator) {
	s.mgr.effects.Broadcast(s.ID, c.UserID, model.NewMessage(model.MsgCollaboratorJoined, c))
	s.mgr.notifier.Publish("collaborator_joined", map[string]any{
		"session_id": s.ID,
		"user_id":    c.UserID,
		"role":       c.Role,
	})
}

func (s *Session) leave(userID string) error {
	c := s.find(userID)
	if c == nil {
		return model.ErrUnknownCollaborator
	}
	// Inactive, not removed: the slot and history attribution survive a
	// disconnect.
	c.IsActive = false
	s.mgr.effects.Broadcast(s.ID, userID, model.NewMessage(model.MsgCollaboratorLeft, c))
	return nil
}

func (s *Session) setRole(targetID string, role model.Role, requesterID string) error {
	req := s.find(requesterID)
	if req == nil || !req.Permissions.CanManageRoles {
		return model.ErrForbidden
	}
	if !role.Valid() {
		return model.ErrInvalidSettings
	}
	target := s.find(targetID)
	if target == nil {
		return model.ErrUnknownCollaborator
	}
	if target.Role == role {
		// Idempotent: no state change, no broadcast.
		return nil
	}
	target.Role = role
	target.Permissions = role.Permissions()
	s.mgr.effects.Broadcast(s.ID, "", model.NewMessage(model.MsgRoleUpdated, model.RoleUpdate{UserID: targetID, Role: role}))
	return nil
}

// --- edit pipeline ---

func (s *Session) submit(userID string, edit model.EditAction) error {
	if s.status.Terminal() {
		return model.ErrSessionClosed
	}
	if s.status != model.StatusActive {
		return model.ErrSessionNotActive
	}
	c := s.find(userID)
	if c == nil || !c.Permissions.CanEdit {
		return model.ErrForbidden
	}
	if !c.IsActive {
		return model.ErrNotConnected
	}

	edit.ID = ulid.Make().String()
	edit.UserID = userID
	if edit.Timestamp.IsZero() {
		edit.Timestamp = s.mgr.now()
	}
	edit.Version = s.version

	s.pending = append(s.pending, edit)
	s.drain()
	return nil
}

// drain sorts the pending queue by timestamp (stable, so equal timestamps
// keep submission order) and resolves each edit against applied history.
func (s *Session) drain() {
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].Timestamp.Before(s.pending[j].Timestamp)
	})
	queue := s.pending
	s.pending = s.pending[:0]

	for _, edit := range queue {
		conflicts := detectConflicts(s.history, edit)
		res := resolve(s.settings.Strategy, edit, conflicts)

		if len(conflicts) > 0 {
			s.mgr.notifier.Publish("conflict_detected", map[string]any{
				"session_id": s.ID,
				"edit_id":    edit.ID,
				"user_id":    edit.UserID,
				"conflicts":  len(conflicts),
				"accepted":   res.verdict != verdictReject,
			})
		}

		if res.verdict == verdictReject {
			s.mgr.effects.SendTo(s.ID, edit.UserID, model.NewMessage(model.MsgConflictDetected, model.ConflictNotice{
				Edit:      edit,
				Conflicts: res.conflicts,
				Strategy:  s.settings.Strategy,
				Reason:    res.reason,
			}))
			continue
		}

		s.apply(res.edit)
	}
}

func (s *Session) apply(edit model.EditAction) {
	if err := s.doc.Apply(edit); err != nil {
		logger.Sugar.Warnf("Session %s: rejected edit %s from %s: %v", s.ID, edit.ID, edit.UserID, err)
		s.mgr.effects.SendTo(s.ID, edit.UserID, model.NewMessage(model.MsgEditRejected, map[string]any{
			"edit":   edit,
			"reason": err.Error(),
		}))
		return
	}

	next := s.version + 1
	if next <= s.version {
		// Version counter went backward: internal invariant violation,
		// fatal to the session.
		logger.Sugar.Errorf("Session %s: version counter overflow at %d, tearing down", s.ID, s.version)
		s.shutdown(model.StatusCancelled)
		return
	}
	s.version = next
	s.dirty = true

	s.history = append(s.history, edit)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}

	color := ""
	if c := s.find(edit.UserID); c != nil {
		color = c.Color
	}
	// Every collaborator, submitter included, sees the same ordered stream
	// of edit_applied messages.
	s.mgr.effects.Broadcast(s.ID, "", model.NewMessage(model.MsgEditApplied, model.AppliedEdit{Edit: edit, Color: color}))
	s.mgr.notifier.Publish("edit_applied", map[string]any{
		"session_id":  s.ID,
		"document_id": s.DocumentID,
		"edit_id":     edit.ID,
		"user_id":     edit.UserID,
		"version":     s.version,
	})
	if s.mgr.recorder != nil {
		s.mgr.recorder.RecordApplied(s.DocumentID, edit)
	}
}

// --- persistence & lifecycle ---

func (s *Session) snapshotContent() []byte {
	b, err := json.Marshal(s.doc)
	if err != nil {
		logger.Sugar.Errorf("Session %s: failed to marshal document: %v", s.ID, err)
		return nil
	}
	return b
}

func (s *Session) autosave() {
	if !s.dirty {
		return
	}
	content := s.snapshotContent()
	if content == nil {
		return
	}
	s.version++
	s.dirty = false
	version := s.version

	// The write happens off the actor goroutine so a slow store never
	// stalls the edit pipeline. A failed save re-marks the session dirty
	// and is retried on the next tick.
	go func() {
		if err := s.mgr.store.SaveSnapshot(s.DocumentID, version, content); err != nil {
			_ = s.do(func() { s.dirty = true })
			return
		}
		logger.Sugar.Infof("Auto-saved document %s (v%d)", s.DocumentID, version)
	}()
}

// finalSave is the synchronous best-effort snapshot taken on shutdown.
func (s *Session) finalSave() {
	content := s.snapshotContent()
	if content == nil {
		return
	}
	if err := s.mgr.store.SaveSnapshot(s.DocumentID, s.version, content); err != nil {
		logger.Sugar.Errorf("Session %s: final snapshot failed: %v", s.ID, err)
	}
}

func (s *Session) shutdown(status model.SessionStatus) {
	if s.status.Terminal() {
		return
	}
	s.pending = s.pending[:0]
	s.status = status
	s.finalSave()
	s.mgr.effects.Broadcast(s.ID, "", model.NewMessage(model.MsgSessionClosed, map[string]any{
		"session_id": s.ID,
		"status":     status,
	}))
}

func (s *Session) stateSync() *model.StateSync {
	hist := s.history
	if len(hist) > recentHistory {
		hist = hist[len(hist)-recentHistory:]
	}
	histCopy := make([]model.EditAction, len(hist))
	copy(histCopy, hist)
	return &model.StateSync{
		Session:  s.info(),
		Document: s.doc.Clone(),
		History:  histCopy,
	}
}

func (s *Session) info() model.SessionInfo {
	collabs := make([]model.Collaborator, len(s.collaborators))
	for i, c := range s.collaborators {
		collabs[i] = *c
	}
	return model.SessionInfo{
		ID:            s.ID,
		DocumentID:    s.DocumentID,
		HostID:        s.HostID,
		Status:        s.status,
		Settings:      s.settings,
		Version:       s.version,
		Collaborators: collabs,
	}
}

// --- exported entry points (serialized through the actor) ---

// Join admits a collaborator. attach, when non-nil, runs on the session
// goroutine right after the snapshot is captured: nothing can be applied
// between the snapshot and whatever routing attach sets up.
func (s *Session) Join(userID string, approved bool, attach func(*model.StateSync)) (*model.StateSync, error) {
	var snap *model.StateSync
	var err error
	if derr := s.do(func() {
		snap, err = s.join(userID, approved)
		if err == nil && attach != nil {
			attach(snap)
		}
	}); derr != nil {
		return nil, derr
	}
	return snap, err
}

func (s *Session) Leave(userID string) error {
	var err error
	if derr := s.do(func() { err = s.leave(userID) }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) SetRole(targetID string, role model.Role, requesterID string) error {
	var err error
	if derr := s.do(func() { err = s.setRole(targetID, role, requesterID) }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) Submit(userID string, edit model.EditAction) error {
	var err error
	if derr := s.do(func() { err = s.submit(userID, edit) }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) Info() (model.SessionInfo, error) {
	var info model.SessionInfo
	if derr := s.do(func() { info = s.info() }); derr != nil {
		return model.SessionInfo{}, derr
	}
	return info, nil
}

func (s *Session) Snapshot() (*model.StateSync, error) {
	var snap *model.StateSync
	if derr := s.do(func() { snap = s.stateSync() }); derr != nil {
		return nil, derr
	}
	return snap, nil
}

func (s *Session) Pause() error {
	return s.do(func() {
		if s.status == model.StatusActive {
			s.status = model.StatusPaused
		}
	})
}

func (s *Session) Resume() error {
	return s.do(func() {
		if s.status == model.StatusPaused {
			s.status = model.StatusActive
		}
	})
}

func (s *Session) Complete() error {
	return s.do(func() { s.shutdown(model.StatusCompleted) })
}

func (s *Session) Cancel() error {
	return s.do(func() { s.shutdown(model.StatusCancelled) })
}
