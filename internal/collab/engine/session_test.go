package engine

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/internal/collab/model"
	"storyforge/internal/storage"
)

type recordedMsg struct {
	sessionID string
	except    string
	to        string
	msg       model.Message
}

// recorder stands in for the gateway hub in tests.
type recorder struct {
	mu      sync.Mutex
	entries []recordedMsg
}

func (r *recorder) Broadcast(sessionID, except string, msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedMsg{sessionID: sessionID, except: except, msg: msg})
}

func (r *recorder) SendTo(sessionID, userID string, msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedMsg{sessionID: sessionID, to: userID, msg: msg})
}

func (r *recorder) byType(msgType string) []recordedMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedMsg
	for _, e := range r.entries {
		if e.msg.Type == msgType {
			out = append(out, e)
		}
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Publish(event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

type allowAllTokens struct{}

func (allowAllTokens) Validate(string, string) bool { return true }

type testEnv struct {
	mgr      *Manager
	store    *storage.Memory
	rec      *recorder
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    storage.NewMemory(),
		rec:      &recorder{},
		notifier: &fakeNotifier{},
	}
	env.mgr = NewManager(NewMemoryRepo(), env.store, env.notifier, allowAllTokens{}, time.Now)
	env.mgr.SetEffects(env.rec)
	return env
}

func testSettings() model.SessionSettings {
	return model.SessionSettings{
		MaxCollaborators: 4,
		AllowSpectators:  true,
		Strategy:         model.StrategyLastWriteWins,
		VersionInterval:  time.Second,
	}
}

// seedDocument submits the structural skeleton from the host, timestamped
// well before the test window so seeds never count as concurrent.
func seedDocument(t *testing.T, env *testEnv, sessionID string, at time.Time) {
	t.Helper()
	require.NoError(t, env.mgr.Submit(sessionID, "owner", model.EditAction{
		Kind:      model.EditStructure,
		Op:        model.OpAdd,
		Target:    model.EditTarget{SectionID: "s1"},
		Payload:   model.MarshalPayload(model.StructurePayload{Heading: "Opening"}),
		Timestamp: at,
	}))
	require.NoError(t, env.mgr.Submit(sessionID, "owner", model.EditAction{
		Kind:      model.EditContent,
		Op:        model.OpAdd,
		Target:    model.EditTarget{SectionID: "s1", LineID: "l1"},
		Payload:   model.MarshalPayload(model.ContentPayload{Text: "init"}),
		Timestamp: at.Add(time.Second),
	}))
}

func contentUpdate(target model.EditTarget, text string, at time.Time) model.EditAction {
	return model.EditAction{
		Kind:      model.EditContent,
		Op:        model.OpUpdate,
		Target:    target,
		Payload:   model.MarshalPayload(model.ContentPayload{Text: text}),
		Timestamp: at,
	}
}

func lineText(t *testing.T, snap *model.StateSync, sectionID, lineID string) string {
	t.Helper()
	sec := snap.Document.FindSection(sectionID)
	require.NotNil(t, sec)
	for _, l := range sec.Lines {
		if l.ID == lineID {
			return l.Text
		}
	}
	t.Fatalf("line %s not found in section %s", lineID, sectionID)
	return ""
}

func TestCreateSessionValidatesSettings(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.mgr.CreateSession("doc1", "owner", model.SessionSettings{MaxCollaborators: 0})
	assert.ErrorIs(t, err, model.ErrInvalidSettings)
}

func TestCreateSessionHostIsSoleOwner(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)

	require.Len(t, info.Collaborators, 1)
	assert.Equal(t, model.RoleOwner, info.Collaborators[0].Role)
	assert.Equal(t, model.Palette[0], info.Collaborators[0].Color)
}

func TestJoinIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)

	snap1, err := env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)
	color := snap1.Session.Collaborators[1].Color

	require.NoError(t, env.mgr.Leave(info.ID, "bob"))

	snap2, err := env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)
	assert.Len(t, snap2.Session.Collaborators, 2, "rejoin must not add a second slot")
	assert.Equal(t, color, snap2.Session.Collaborators[1].Color, "color is stable per session")
	assert.True(t, snap2.Session.Collaborators[1].IsActive)
}

func TestCapacityEnforcement(t *testing.T) {
	env := newTestEnv(t)
	settings := testSettings()
	settings.MaxCollaborators = 1
	settings.AllowSpectators = false
	info, err := env.mgr.CreateSession("doc1", "owner", settings)
	require.NoError(t, err)

	_, err = env.mgr.Join(info.ID, "bob", "")
	assert.ErrorIs(t, err, model.ErrSessionFull)

	// With spectators allowed the join succeeds regardless of capacity,
	// routed to the spectator role.
	settings.AllowSpectators = true
	info2, err := env.mgr.CreateSession("doc2", "owner", settings)
	require.NoError(t, err)

	snap, err := env.mgr.Join(info2.ID, "carol", "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleSpectator, snap.Session.Collaborators[1].Role)

	// Spectators can watch but never edit.
	err = env.mgr.Submit(info2.ID, "carol", contentUpdate(model.EditTarget{SectionID: "s1"}, "x", time.Now()))
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestApprovalRequired(t *testing.T) {
	env := newTestEnv(t)
	settings := testSettings()
	settings.RequireApproval = true
	info, err := env.mgr.CreateSession("doc1", "owner", settings)
	require.NoError(t, err)

	_, err = env.mgr.Join(info.ID, "bob", "")
	assert.ErrorIs(t, err, model.ErrApprovalRequired)

	// The validator accepts any token in tests; presenting one is enough.
	_, err = env.mgr.Join(info.ID, "bob", "some-token")
	assert.NoError(t, err)
}

func TestSetRoleIdempotence(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)
	_, err = env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)

	// bob joined as editor; setting editor again changes nothing.
	require.NoError(t, env.mgr.SetRole(info.ID, "bob", model.RoleEditor, "owner"))
	assert.Empty(t, env.rec.byType(model.MsgRoleUpdated))

	require.NoError(t, env.mgr.SetRole(info.ID, "bob", model.RoleViewer, "owner"))
	assert.Len(t, env.rec.byType(model.MsgRoleUpdated), 1)

	// Viewer permissions are derived immediately.
	err = env.mgr.Submit(info.ID, "bob", contentUpdate(model.EditTarget{SectionID: "s1"}, "x", time.Now()))
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestSetRoleRequiresManagePermission(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)
	_, err = env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)

	err = env.mgr.SetRole(info.ID, "owner", model.RoleViewer, "bob")
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestLastWriteWinsScenario(t *testing.T) {
	env := newTestEnv(t)
	settings := testSettings()
	settings.MaxCollaborators = 2
	info, err := env.mgr.CreateSession("doc1", "owner", settings)
	require.NoError(t, err)
	_, err = env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)

	base := time.Now()
	seedDocument(t, env, info.ID, base.Add(-time.Minute))

	target := model.EditTarget{SectionID: "s1", LineID: "l1"}
	require.NoError(t, env.mgr.Submit(info.ID, "owner", contentUpdate(target, "X", base)))
	require.NoError(t, env.mgr.Submit(info.ID, "bob", contentUpdate(target, "Y", base.Add(time.Second))))

	// Both edits are logged, in submission order; bob's was flagged as
	// conflicting but last-write-wins accepts it.
	applied := env.rec.byType(model.MsgEditApplied)
	require.Len(t, applied, 4) // two seeds + X + Y

	var xMsg, yMsg model.AppliedEdit
	require.NoError(t, json.Unmarshal(applied[2].msg.Data, &xMsg))
	require.NoError(t, json.Unmarshal(applied[3].msg.Data, &yMsg))
	assert.Equal(t, "owner", xMsg.Edit.UserID)
	assert.Equal(t, "bob", yMsg.Edit.UserID)
	assert.Equal(t, model.Palette[1], yMsg.Color)

	assert.Equal(t, 1, env.notifier.count("conflict_detected"))

	snap, err := env.mgr.Snapshot(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "Y", lineText(t, snap, "s1", "l1"))
	require.Len(t, snap.History, 4)
	assert.Equal(t, xMsg.Edit.ID, snap.History[2].ID, "broadcast order matches the applied log")
	assert.Equal(t, yMsg.Edit.ID, snap.History[3].ID)
}

func TestFirstWriteWinsRejectsAndNotifiesSubmitterOnly(t *testing.T) {
	env := newTestEnv(t)
	settings := testSettings()
	settings.Strategy = model.StrategyFirstWriteWins
	info, err := env.mgr.CreateSession("doc1", "owner", settings)
	require.NoError(t, err)
	_, err = env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)

	base := time.Now()
	seedDocument(t, env, info.ID, base.Add(-time.Minute))

	target := model.EditTarget{SectionID: "s1", LineID: "l1"}
	require.NoError(t, env.mgr.Submit(info.ID, "owner", contentUpdate(target, "X", base)))
	require.NoError(t, env.mgr.Submit(info.ID, "bob", contentUpdate(target, "Y", base.Add(100*time.Millisecond))))

	notices := env.rec.byType(model.MsgConflictDetected)
	require.Len(t, notices, 1)
	assert.Equal(t, "bob", notices[0].to, "only the submitter hears about the rejection")

	var notice model.ConflictNotice
	require.NoError(t, json.Unmarshal(notices[0].msg.Data, &notice))
	require.Len(t, notice.Conflicts, 1)
	assert.Equal(t, "owner", notice.Conflicts[0].UserID)

	snap, err := env.mgr.Snapshot(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", lineText(t, snap, "s1", "l1"))
	assert.Len(t, snap.History, 3)
}

func TestDisjointEditsAreAllApplied(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)
	_, err = env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)

	base := time.Now()
	seedDocument(t, env, info.ID, base.Add(-time.Minute))
	require.NoError(t, env.mgr.Submit(info.ID, "owner", model.EditAction{
		Kind:      model.EditContent,
		Op:        model.OpAdd,
		Target:    model.EditTarget{SectionID: "s1", LineID: "l2"},
		Payload:   model.MarshalPayload(model.ContentPayload{Text: "second"}),
		Timestamp: base.Add(-30 * time.Second),
	}))

	target1 := model.EditTarget{SectionID: "s1", LineID: "l1"}
	target2 := model.EditTarget{SectionID: "s1", LineID: "l2"}
	require.NoError(t, env.mgr.Submit(info.ID, "owner", contentUpdate(target1, "from-owner", base)))
	require.NoError(t, env.mgr.Submit(info.ID, "bob", contentUpdate(target2, "from-bob", base.Add(100*time.Millisecond))))

	assert.Equal(t, 0, env.notifier.count("conflict_detected"))

	snap, err := env.mgr.Snapshot(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "from-owner", lineText(t, snap, "s1", "l1"))
	assert.Equal(t, "from-bob", lineText(t, snap, "s1", "l2"))
}

func TestSubmitAfterLeaveIsNotConnected(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)
	_, err = env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)
	require.NoError(t, env.mgr.Leave(info.ID, "bob"))

	err = env.mgr.Submit(info.ID, "bob", contentUpdate(model.EditTarget{SectionID: "s1"}, "x", time.Now()))
	assert.ErrorIs(t, err, model.ErrNotConnected)
}

func TestInvalidTargetIsRejectedAndSurfaced(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)

	require.NoError(t, env.mgr.Submit(info.ID, "owner", contentUpdate(model.EditTarget{SectionID: "nope", LineID: "l1"}, "x", time.Now())))

	rejected := env.rec.byType(model.MsgEditRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "owner", rejected[0].to)

	snap, err := env.mgr.Snapshot(info.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.History)
	assert.Equal(t, int64(0), snap.Session.Version)
}

func TestConcurrentSubmissionsKeepOneOrder(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)
	_, err = env.mgr.Join(info.ID, "bob", "")
	require.NoError(t, err)

	const perUser = 20
	var wg sync.WaitGroup
	for _, user := range []string{"owner", "bob"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < perUser; i++ {
				// Unique sections per edit: disjoint targets, no conflicts.
				err := env.mgr.Submit(info.ID, user, model.EditAction{
					Kind:    model.EditStructure,
					Op:      model.OpAdd,
					Target:  model.EditTarget{SectionID: user + "-" + string(rune('a'+i))},
					Payload: model.MarshalPayload(model.StructurePayload{}),
				})
				assert.NoError(t, err)
			}
		}(user)
	}
	wg.Wait()

	snap, err := env.mgr.Snapshot(info.ID)
	require.NoError(t, err)
	require.Len(t, snap.History, 2*perUser)
	assert.Equal(t, int64(2*perUser), snap.Session.Version)

	// The broadcast stream everyone receives matches the applied log
	// exactly, element for element.
	applied := env.rec.byType(model.MsgEditApplied)
	require.Len(t, applied, 2*perUser)
	for i, entry := range applied {
		var ae model.AppliedEdit
		require.NoError(t, json.Unmarshal(entry.msg.Data, &ae))
		assert.Equal(t, snap.History[i].ID, ae.Edit.ID)
	}
}

func TestJoinAttachRunsAtomicallyWithSnapshot(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)

	// Hammer the session with disjoint edits while a collaborator joins.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			err := env.mgr.Submit(info.ID, "owner", model.EditAction{
				Kind:    model.EditStructure,
				Op:      model.OpAdd,
				Target:  model.EditTarget{SectionID: "sec-" + strconv.Itoa(i)},
				Payload: model.MarshalPayload(model.StructurePayload{}),
			})
			assert.NoError(t, err)
		}
	}()

	// attach runs on the session goroutine, so the broadcast count it
	// observes must equal the snapshot version exactly: no edit can land
	// between the snapshot and the routing registration.
	var atAttach int64
	var snapVersion int64
	_, err = env.mgr.JoinAttached(info.ID, "bob", "", func(snap *model.StateSync) {
		atAttach = int64(len(env.rec.byType(model.MsgEditApplied)))
		snapVersion = snap.Session.Version
	})
	close(stop)
	wg.Wait()
	require.NoError(t, err)

	assert.Equal(t, snapVersion, atAttach,
		"every edit broadcast before attach must be in the snapshot, and none after")
}

func TestCancelReleasesSessionWithFinalSnapshot(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)
	seedDocument(t, env, info.ID, time.Now().Add(-time.Minute))

	require.NoError(t, env.mgr.Cancel(info.ID))

	closed := env.rec.byType(model.MsgSessionClosed)
	require.Len(t, closed, 1)

	content, _, err := env.store.LoadSnapshot("doc1")
	require.NoError(t, err, "cancel forces a final snapshot")
	var doc model.Document
	require.NoError(t, json.Unmarshal(content, &doc))
	assert.NotNil(t, doc.FindSection("s1"))

	// The session is gone; any further call fails.
	err = env.mgr.Submit(info.ID, "owner", contentUpdate(model.EditTarget{SectionID: "s1"}, "x", time.Now()))
	require.Error(t, err)
}

func TestAutoSavePersistsAndBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	settings := testSettings()
	settings.AutoSaveEnabled = true
	settings.VersionInterval = 20 * time.Millisecond
	info, err := env.mgr.CreateSession("doc1", "owner", settings)
	require.NoError(t, err)
	seedDocument(t, env, info.ID, time.Now().Add(-time.Minute))

	require.Eventually(t, func() bool {
		_, version, err := env.store.LoadSnapshot("doc1")
		return err == nil && version >= 3
	}, time.Second, 10*time.Millisecond)

	info2, err := env.mgr.Info(info.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info2.Version, int64(3))
}

func TestPausedSessionRejectsEdits(t *testing.T) {
	env := newTestEnv(t)
	info, err := env.mgr.CreateSession("doc1", "owner", testSettings())
	require.NoError(t, err)

	require.NoError(t, env.mgr.Pause(info.ID))
	err = env.mgr.Submit(info.ID, "owner", contentUpdate(model.EditTarget{SectionID: "s1"}, "x", time.Now()))
	assert.ErrorIs(t, err, model.ErrSessionNotActive)

	require.NoError(t, env.mgr.Resume(info.ID))
	info2, err := env.mgr.Info(info.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, info2.Status)
}
