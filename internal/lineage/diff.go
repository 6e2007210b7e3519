package lineage

import "storyforge/internal/collab/model"

// Diff is the per-section comparison of a remix against the live original.
type Diff struct {
	RemixID  string   `json:"remix_id"`
	Added    []string `json:"added"`    // section ids present only in the remix
	Removed  []string `json:"removed"`  // section ids present only in the original
	Modified []string `json:"modified"` // section ids present in both but differing
}

// Compare diffs the remix against the original, both read from their
// latest stored snapshots. Pure read; no lineage state changes.
func (t *Tracker) Compare(remixID string) (*Diff, error) {
	t.mu.RLock()
	r, ok := t.remixes[remixID]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownRemix
	}

	original, err := t.loadDocument(r.OriginalDocumentID)
	if err != nil {
		return nil, err
	}

	// Sessions editing the clone persist through the store, so the
	// fork-time copy goes stale; fall back to it only when no snapshot
	// was ever written.
	remix, err := t.loadDocument(r.DocumentID)
	if err == ErrNoSnapshot {
		remix = r.Document
	} else if err != nil {
		return nil, err
	}

	d := &Diff{RemixID: remixID, Added: []string{}, Removed: []string{}, Modified: []string{}}

	origSections := make(map[string]*model.Section, len(original.Sections))
	for _, s := range original.Sections {
		origSections[s.ID] = s
	}
	seen := make(map[string]bool, len(remix.Sections))
	for _, s := range remix.Sections {
		seen[s.ID] = true
		orig, ok := origSections[s.ID]
		if !ok {
			d.Added = append(d.Added, s.ID)
			continue
		}
		if !sectionsEqual(orig, s) {
			d.Modified = append(d.Modified, s.ID)
		}
	}
	for _, s := range original.Sections {
		if !seen[s.ID] {
			d.Removed = append(d.Removed, s.ID)
		}
	}
	return d, nil
}

func sectionsEqual(a, b *model.Section) bool {
	if a.Heading != b.Heading || len(a.Lines) != len(b.Lines) {
		return false
	}
	if len(a.Meta) != len(b.Meta) {
		return false
	}
	for k, v := range a.Meta {
		if b.Meta[k] != v {
			return false
		}
	}
	for i, la := range a.Lines {
		lb := b.Lines[i]
		if la.ID != lb.ID || la.Text != lb.Text || len(la.Segments) != len(lb.Segments) {
			return false
		}
		for j, sa := range la.Segments {
			if sa.ID != lb.Segments[j].ID || sa.Text != lb.Segments[j].Text {
				return false
			}
		}
	}
	return true
}
