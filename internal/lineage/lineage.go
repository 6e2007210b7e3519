package lineage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/collab/model"
	"storyforge/internal/notify"
	"storyforge/internal/storage"
	"storyforge/pkg/logger"
)

var (
	ErrUnknownRemix    = errors.New("lineage: unknown remix")
	ErrUnknownDocument = errors.New("lineage: unknown document")
	ErrNotDraft        = errors.New("lineage: remix is not a draft")
	ErrNotPublished    = errors.New("lineage: remix is not published")
	ErrRemixNotAllowed = errors.New("lineage: document does not allow further remixing")
	ErrNoSnapshot      = errors.New("lineage: no snapshot to fork from")
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPublic   Visibility = "public"
)

// Remix is an independently editable fork. Its document is a deep copy of
// the original snapshot; once editing begins it runs under its own session.
type Remix struct {
	ID                 string             `json:"id"`
	OriginalDocumentID string             `json:"original_document_id"`
	DocumentID         string             `json:"document_id"`
	RemixerID          string             `json:"remixer_id"`
	Status             Status             `json:"status"`
	Visibility         Visibility         `json:"visibility"`
	Depth              int                `json:"depth"`
	Ancestors          []string           `json:"ancestors"`
	AllowFurtherRemix  bool               `json:"allow_further_remix"`
	CreatedAt          time.Time          `json:"created_at"`
	PublishedAt        *time.Time         `json:"published_at,omitempty"`
	Changes            []model.EditAction `json:"changes"`
	Document           *model.Document    `json:"document"`
}

// Node is one vertex of the ancestry DAG, keyed by document id. Children
// edges are appended at publish time and never deleted; archiving only
// marks the edge historical.
type Node struct {
	DocumentID        string   `json:"document_id"`
	RemixID           string   `json:"remix_id,omitempty"`
	ParentID          string   `json:"parent_id,omitempty"`
	Depth             int      `json:"depth"`
	Ancestors         []string `json:"ancestors"`
	Children          []string `json:"children"`
	Historical        bool     `json:"historical"`
	RemixCount        int      `json:"remix_count"`
	AllowFurtherRemix bool     `json:"allow_further_remix"`
}

type ForkOptions struct {
	Visibility        Visibility
	AllowFurtherRemix bool
}

// Tracker maintains the shared fork/remix DAG across all sessions. Appends
// are serialized behind one lock; the structure is never mutated
// destructively, so reads only take the read half.
type Tracker struct {
	mu      sync.RWMutex
	nodes   map[string]*Node  // by document id
	remixes map[string]*Remix // by remix id
	byDoc   map[string]*Remix // remix looked up by its cloned document id

	store    storage.Store
	notifier notify.Notifier
	now      func() time.Time
}

func NewTracker(store storage.Store, notifier notify.Notifier, now func() time.Time) *Tracker {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		nodes:    make(map[string]*Node),
		remixes:  make(map[string]*Remix),
		byDoc:    make(map[string]*Remix),
		store:    store,
		notifier: notifier,
		now:      now,
	}
}

// Register ensures a root node (depth 0) exists for a document. Idempotent.
func (t *Tracker) Register(documentID string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.register(documentID)
}

func (t *Tracker) register(documentID string) *Node {
	if n, ok := t.nodes[documentID]; ok {
		return n
	}
	n := &Node{DocumentID: documentID, Ancestors: []string{}, Children: []string{}, AllowFurtherRemix: true}
	t.nodes[documentID] = n
	return n
}

// Fork clones the document's stored snapshot into a new draft remix with
// depth = parent.depth + 1 and the parent appended to the ancestor chain.
func (t *Tracker) Fork(documentID, remixerID string, opts ForkOptions) (*Remix, error) {
	doc, err := t.loadDocument(documentID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent := t.register(documentID)
	if !parent.AllowFurtherRemix {
		return nil, ErrRemixNotAllowed
	}

	cloneID := uuid.NewString()
	clone := doc.Clone()
	clone.ID = cloneID

	ancestors := make([]string, 0, len(parent.Ancestors)+1)
	ancestors = append(ancestors, parent.Ancestors...)
	ancestors = append(ancestors, parent.DocumentID)

	if opts.Visibility == "" {
		opts.Visibility = VisibilityPrivate
	}

	r := &Remix{
		ID:                 uuid.NewString(),
		OriginalDocumentID: documentID,
		DocumentID:         cloneID,
		RemixerID:          remixerID,
		Status:             StatusDraft,
		Visibility:         opts.Visibility,
		Depth:              parent.Depth + 1,
		Ancestors:          ancestors,
		AllowFurtherRemix:  opts.AllowFurtherRemix,
		CreatedAt:          t.now(),
		Changes:            []model.EditAction{},
		Document:           clone,
	}
	t.remixes[r.ID] = r
	t.byDoc[cloneID] = r

	// The remix's node exists from fork time; the edge from its parent is
	// only appended when the remix is published.
	t.nodes[cloneID] = &Node{
		DocumentID:        cloneID,
		RemixID:           r.ID,
		ParentID:          documentID,
		Depth:             r.Depth,
		Ancestors:         ancestors,
		Children:          []string{},
		AllowFurtherRemix: opts.AllowFurtherRemix,
	}

	// Persist the clone so the remix's own session can pick it up.
	if content, err := json.Marshal(clone); err == nil {
		if serr := t.store.SaveSnapshot(cloneID, 0, content); serr != nil {
			logger.Sugar.Errorf("Failed to persist forked snapshot %s: %v", cloneID, serr)
		}
	}

	logger.Sugar.Infof("Forked document %s into remix %s (depth %d)", documentID, r.ID, r.Depth)
	return r, nil
}

func (t *Tracker) loadDocument(documentID string) (*model.Document, error) {
	content, _, err := t.store.LoadSnapshot(documentID)
	if err == storage.ErrNotFound {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("lineage: load snapshot: %w", err)
	}
	var doc model.Document
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("lineage: corrupt snapshot for %s: %w", documentID, err)
	}
	return &doc, nil
}

// RecordChange appends to the remix's own change list. The original's
// lineage is untouched.
func (t *Tracker) RecordChange(remixID string, edit model.EditAction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.remixes[remixID]
	if !ok {
		return ErrUnknownRemix
	}
	r.Changes = append(r.Changes, edit)
	return nil
}

// RecordApplied satisfies the engine's ChangeRecorder: edits applied to a
// session whose document is a remix clone are mirrored into the remix's
// change list. A no-op for non-remix documents.
func (t *Tracker) RecordApplied(documentID string, edit model.EditAction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.byDoc[documentID]; ok {
		r.Changes = append(r.Changes, edit)
	}
}

// Publish transitions draft -> published and appends the remix as a
// permanent child edge in its parent's node. Irreversible.
func (t *Tracker) Publish(remixID string) error {
	t.mu.Lock()
	r, ok := t.remixes[remixID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownRemix
	}
	if r.Status != StatusDraft {
		t.mu.Unlock()
		return ErrNotDraft
	}
	r.Status = StatusPublished
	at := t.now()
	r.PublishedAt = &at

	parent := t.register(r.OriginalDocumentID)
	parent.Children = append(parent.Children, r.DocumentID)
	parent.RemixCount++
	t.mu.Unlock()

	t.notifier.Publish("remix_published", map[string]any{
		"remix_id":    r.ID,
		"original_id": r.OriginalDocumentID,
		"remixer_id":  r.RemixerID,
		"depth":       r.Depth,
	})
	logger.Sugar.Infof("Published remix %s of document %s", r.ID, r.OriginalDocumentID)
	return nil
}

// Archive marks a published remix historical. The lineage edge stays.
func (t *Tracker) Archive(remixID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.remixes[remixID]
	if !ok {
		return ErrUnknownRemix
	}
	if r.Status != StatusPublished {
		return ErrNotPublished
	}
	r.Status = StatusArchived
	if n, ok := t.nodes[r.DocumentID]; ok {
		n.Historical = true
	}
	return nil
}

// Remix returns the remix by id.
func (t *Tracker) Remix(remixID string) (*Remix, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.remixes[remixID]
	if !ok {
		return nil, ErrUnknownRemix
	}
	return r, nil
}

// Depth returns a document's depth in the DAG.
func (t *Tracker) Depth(documentID string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[documentID]
	if !ok {
		return 0, ErrUnknownDocument
	}
	return n.Depth, nil
}

// Ancestors returns the ancestor chain, root first.
func (t *Tracker) Ancestors(documentID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[documentID]
	if !ok {
		return nil, ErrUnknownDocument
	}
	out := make([]string, len(n.Ancestors))
	copy(out, n.Ancestors)
	return out, nil
}

// Graph returns the document's node and every published descendant,
// breadth-first.
func (t *Tracker) Graph(documentID string) ([]Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	root, ok := t.nodes[documentID]
	if !ok {
		return nil, ErrUnknownDocument
	}
	var out []Node
	queue := []*Node{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, *n)
		for _, childID := range n.Children {
			if c, ok := t.nodes[childID]; ok {
				queue = append(queue, c)
			}
		}
	}
	return out, nil
}
