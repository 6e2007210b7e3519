package lineage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/internal/collab/engine"
	"storyforge/internal/collab/model"
	"storyforge/internal/storage"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func sampleDoc(id string) *model.Document {
	return &model.Document{
		ID:    id,
		Title: "Sample",
		Sections: []*model.Section{
			{
				ID:      "s1",
				Heading: "Opening",
				Lines:   []*model.Line{{ID: "l1", Text: "first line"}},
			},
			{
				ID:      "s2",
				Heading: "Middle",
				Lines:   []*model.Line{{ID: "l2", Text: "second line"}},
			},
		},
	}
}

func seedStore(t *testing.T, store storage.Store, doc *model.Document) {
	t.Helper()
	content, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(doc.ID, 1, content))
}

func newTracker(t *testing.T) (*Tracker, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	return NewTracker(store, nil, fixedNow), store
}

func TestForkRequiresSnapshot(t *testing.T) {
	tr, _ := newTracker(t)
	_, err := tr.Fork("missing", "alice", ForkOptions{})
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestForkClonesDeeplyAndPersists(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	r, err := tr.Fork("doc-a", "alice", ForkOptions{AllowFurtherRemix: true})
	require.NoError(t, err)

	assert.Equal(t, "doc-a", r.OriginalDocumentID)
	assert.NotEqual(t, "doc-a", r.DocumentID)
	assert.Equal(t, StatusDraft, r.Status)
	assert.Equal(t, VisibilityPrivate, r.Visibility, "visibility defaults to private")
	assert.Equal(t, 1, r.Depth)
	assert.Equal(t, []string{"doc-a"}, r.Ancestors)

	// The clone is independent of the original snapshot.
	r.Document.Sections[0].Lines[0].Text = "mutated"
	orig, err := tr.loadDocument("doc-a")
	require.NoError(t, err)
	assert.Equal(t, "first line", orig.Sections[0].Lines[0].Text)

	// The clone's own snapshot is persisted so its session can load it.
	content, _, err := store.LoadSnapshot(r.DocumentID)
	require.NoError(t, err)
	var clone model.Document
	require.NoError(t, json.Unmarshal(content, &clone))
	assert.Equal(t, r.DocumentID, clone.ID)
}

func TestDepthGrowsByOnePerGeneration(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))
	tr.Register("doc-a")

	rb, err := tr.Fork("doc-a", "bob", ForkOptions{AllowFurtherRemix: true})
	require.NoError(t, err)
	rc, err := tr.Fork(rb.DocumentID, "carol", ForkOptions{AllowFurtherRemix: true})
	require.NoError(t, err)

	for docID, want := range map[string]int{"doc-a": 0, rb.DocumentID: 1, rc.DocumentID: 2} {
		got, err := tr.Depth(docID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	ancestors, err := tr.Ancestors(rc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-a", rb.DocumentID}, ancestors, "chain is root first")
}

func TestPublishAppendsPermanentEdge(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	r, err := tr.Fork("doc-a", "bob", ForkOptions{})
	require.NoError(t, err)

	// Before publish the parent has no edge to the draft.
	graph, err := tr.Graph("doc-a")
	require.NoError(t, err)
	require.Len(t, graph, 1)
	assert.Zero(t, graph[0].RemixCount)

	require.NoError(t, tr.Publish(r.ID))

	got, err := tr.Remix(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, got.Status)
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, fixedNow(), *got.PublishedAt)

	graph, err = tr.Graph("doc-a")
	require.NoError(t, err)
	require.Len(t, graph, 2)
	assert.Equal(t, 1, graph[0].RemixCount)
	assert.Equal(t, r.DocumentID, graph[1].DocumentID)

	// Publishing twice is an error, not a second edge.
	assert.ErrorIs(t, tr.Publish(r.ID), ErrNotDraft)
	graph, _ = tr.Graph("doc-a")
	assert.Len(t, graph, 2)
}

func TestGraphWalksDescendantsBreadthFirst(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	rb, err := tr.Fork("doc-a", "bob", ForkOptions{AllowFurtherRemix: true})
	require.NoError(t, err)
	require.NoError(t, tr.Publish(rb.ID))

	rc, err := tr.Fork(rb.DocumentID, "carol", ForkOptions{AllowFurtherRemix: true})
	require.NoError(t, err)
	require.NoError(t, tr.Publish(rc.ID))

	graph, err := tr.Graph("doc-a")
	require.NoError(t, err)
	require.Len(t, graph, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{graph[0].Depth, graph[1].Depth, graph[2].Depth})
}

func TestArchiveKeepsLineageEdge(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	r, err := tr.Fork("doc-a", "bob", ForkOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, tr.Archive(r.ID), ErrNotPublished)

	require.NoError(t, tr.Publish(r.ID))
	require.NoError(t, tr.Archive(r.ID))

	got, err := tr.Remix(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)

	graph, err := tr.Graph("doc-a")
	require.NoError(t, err)
	require.Len(t, graph, 2, "the edge outlives the remix")
	assert.True(t, graph[1].Historical)
	assert.Equal(t, 1, graph[0].RemixCount, "remix count never decreases")
}

func TestForkRespectsAllowFurtherRemix(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	r, err := tr.Fork("doc-a", "bob", ForkOptions{AllowFurtherRemix: false})
	require.NoError(t, err)

	_, err = tr.Fork(r.DocumentID, "carol", ForkOptions{})
	assert.ErrorIs(t, err, ErrRemixNotAllowed)
}

func TestRecordAppliedMirrorsRemixEdits(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	r, err := tr.Fork("doc-a", "bob", ForkOptions{})
	require.NoError(t, err)

	edit := model.EditAction{
		ID:     "e1",
		UserID: "bob",
		Kind:   model.EditContent,
		Op:     model.OpUpdate,
		Target: model.EditTarget{SectionID: "s1", LineID: "l1"},
	}
	tr.RecordApplied(r.DocumentID, edit)
	// Edits to documents outside the DAG are ignored.
	tr.RecordApplied("doc-a", edit)

	got, err := tr.Remix(r.ID)
	require.NoError(t, err)
	require.Len(t, got.Changes, 1)
	assert.Equal(t, "e1", got.Changes[0].ID)

	assert.ErrorIs(t, tr.RecordChange("nope", edit), ErrUnknownRemix)
}

func TestCompareReportsSectionLevelDiff(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	r, err := tr.Fork("doc-a", "bob", ForkOptions{})
	require.NoError(t, err)

	// Edit the remix and persist it, the way a session snapshot would:
	// drop s2, change s1, add s3.
	edited := r.Document.Clone()
	edited.Sections[0].Lines[0].Text = "rewritten"
	edited.Sections = []*model.Section{
		edited.Sections[0],
		{ID: "s3", Heading: "New ending", Lines: []*model.Line{}},
	}
	seedStore(t, store, edited)

	d, err := tr.Compare(r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, d.Added)
	assert.Equal(t, []string{"s2"}, d.Removed)
	assert.Equal(t, []string{"s1"}, d.Modified)
}

func TestCompareSeesEditsFromRemixSession(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	r, err := tr.Fork("doc-a", "bob", ForkOptions{})
	require.NoError(t, err)

	// Run a real session on the clone: the edit is mirrored into the
	// remix change list and the final snapshot lands in the store.
	mgr := engine.NewManager(engine.NewMemoryRepo(), store, nil, nil, time.Now)
	mgr.SetRecorder(tr)

	settings := model.DefaultSettings()
	settings.AutoSaveEnabled = false
	info, err := mgr.CreateSession(r.DocumentID, "bob", settings)
	require.NoError(t, err)
	require.NoError(t, mgr.Submit(info.ID, "bob", model.EditAction{
		Kind:    model.EditContent,
		Op:      model.OpUpdate,
		Target:  model.EditTarget{SectionID: "s1", LineID: "l1"},
		Payload: model.MarshalPayload(model.ContentPayload{Text: "remixed line"}),
	}))
	require.NoError(t, mgr.Cancel(info.ID))

	got, err := tr.Remix(r.ID)
	require.NoError(t, err)
	require.Len(t, got.Changes, 1)

	d, err := tr.Compare(r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, d.Modified)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
}

func TestCompareUntouchedForkIsEmpty(t *testing.T) {
	tr, store := newTracker(t)
	seedStore(t, store, sampleDoc("doc-a"))

	r, err := tr.Fork("doc-a", "bob", ForkOptions{})
	require.NoError(t, err)

	d, err := tr.Compare(r.ID)
	require.NoError(t, err)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Modified)
}

func TestUnknownLookups(t *testing.T) {
	tr, _ := newTracker(t)
	_, err := tr.Remix("nope")
	assert.ErrorIs(t, err, ErrUnknownRemix)
	_, err = tr.Depth("nope")
	assert.ErrorIs(t, err, ErrUnknownDocument)
	_, err = tr.Graph("nope")
	assert.ErrorIs(t, err, ErrUnknownDocument)
}
