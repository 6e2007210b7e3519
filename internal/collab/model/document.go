package model

import "fmt"

// Document is the authoritative editing state, owned exclusively by one
// session. Sections, lines and segments are the addressable units; the
// resolver never merges below segment granularity.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Meta     map[string]string `json:"meta,omitempty"`
	Sections []*Section        `json:"sections"`
}

type Section struct {
	ID      string            `json:"id"`
	Heading string            `json:"heading"`
	Meta    map[string]string `json:"meta,omitempty"`
	Lines   []*Line           `json:"lines"`
}

type Line struct {
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	Segments []*Segment `json:"segments,omitempty"`
}

type Segment struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func NewDocument(id, title string) *Document {
	return &Document{ID: id, Title: title, Sections: []*Section{}}
}

// Clone returns a deep copy sharing no mutable state with the original.
// Remix forking and state-sync snapshots rely on this.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{ID: d.ID, Title: d.Title, Meta: cloneMeta(d.Meta)}
	out.Sections = make([]*Section, 0, len(d.Sections))
	for _, sec := range d.Sections {
		cs := &Section{ID: sec.ID, Heading: sec.Heading, Meta: cloneMeta(sec.Meta)}
		cs.Lines = make([]*Line, 0, len(sec.Lines))
		for _, ln := range sec.Lines {
			cl := &Line{ID: ln.ID, Text: ln.Text}
			cl.Segments = make([]*Segment, 0, len(ln.Segments))
			for _, sg := range ln.Segments {
				cl.Segments = append(cl.Segments, &Segment{ID: sg.ID, Text: sg.Text})
			}
			cs.Lines = append(cs.Lines, cl)
		}
		out.Sections = append(out.Sections, cs)
	}
	return out
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *Document) sectionIndex(id string) int {
	for i, s := range d.Sections {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// FindSection returns the section with the given id, or nil.
func (d *Document) FindSection(id string) *Section {
	if i := d.sectionIndex(id); i >= 0 {
		return d.Sections[i]
	}
	return nil
}

func (s *Section) lineIndex(id string) int {
	for i, l := range s.Lines {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (l *Line) segmentIndex(id string) int {
	for i, sg := range l.Segments {
		if sg.ID == id {
			return i
		}
	}
	return -1
}

// Apply mutates the document according to the action. Every target must
// resolve to an existing path, except an add, which creates the path its
// deepest component names. Returns ErrInvalidTarget (wrapped) when the path
// cannot be resolved or the op/kind combination does not address anything.
func (d *Document) Apply(a EditAction) error {
	payload, err := a.DecodePayload()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	switch a.Kind {
	case EditContent:
		return d.applyContent(a, payload.(ContentPayload))
	case EditStructure:
		return d.applyStructure(a, payload.(StructurePayload))
	case EditMetadata:
		return d.applyMetadata(a, payload.(MetadataPayload))
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidTarget, a.Kind)
}

func (d *Document) applyContent(a EditAction, p ContentPayload) error {
	sec := d.FindSection(a.Target.SectionID)
	if sec == nil {
		return fmt.Errorf("%w: section %q", ErrInvalidTarget, a.Target.SectionID)
	}
	switch a.Op {
	case OpAdd:
		if a.Target.LineID == "" {
			return fmt.Errorf("%w: content add needs a line id", ErrInvalidTarget)
		}
		li := sec.lineIndex(a.Target.LineID)
		if a.Target.SegmentID != "" {
			if li < 0 {
				return fmt.Errorf("%w: line %q", ErrInvalidTarget, a.Target.LineID)
			}
			ln := sec.Lines[li]
			if ln.segmentIndex(a.Target.SegmentID) >= 0 {
				return fmt.Errorf("%w: segment %q already exists", ErrInvalidTarget, a.Target.SegmentID)
			}
			ln.Segments = append(ln.Segments, &Segment{ID: a.Target.SegmentID, Text: p.Text})
			return nil
		}
		if li >= 0 {
			return fmt.Errorf("%w: line %q already exists", ErrInvalidTarget, a.Target.LineID)
		}
		sec.Lines = append(sec.Lines, &Line{ID: a.Target.LineID, Text: p.Text})
		return nil
	case OpUpdate:
		li := sec.lineIndex(a.Target.LineID)
		if li < 0 {
			return fmt.Errorf("%w: line %q", ErrInvalidTarget, a.Target.LineID)
		}
		ln := sec.Lines[li]
		if a.Target.SegmentID != "" {
			si := ln.segmentIndex(a.Target.SegmentID)
			if si < 0 {
				return fmt.Errorf("%w: segment %q", ErrInvalidTarget, a.Target.SegmentID)
			}
			ln.Segments[si].Text = p.Text
			return nil
		}
		ln.Text = p.Text
		return nil
	case OpDelete:
		li := sec.lineIndex(a.Target.LineID)
		if li < 0 {
			return fmt.Errorf("%w: line %q", ErrInvalidTarget, a.Target.LineID)
		}
		ln := sec.Lines[li]
		if a.Target.SegmentID != "" {
			si := ln.segmentIndex(a.Target.SegmentID)
			if si < 0 {
				return fmt.Errorf("%w: segment %q", ErrInvalidTarget, a.Target.SegmentID)
			}
			ln.Segments = append(ln.Segments[:si], ln.Segments[si+1:]...)
			return nil
		}
		sec.Lines = append(sec.Lines[:li], sec.Lines[li+1:]...)
		return nil
	}
	return fmt.Errorf("%w: op %q not valid for content edits", ErrInvalidTarget, a.Op)
}

func (d *Document) applyStructure(a EditAction, p StructurePayload) error {
	switch a.Op {
	case OpAdd:
		if d.sectionIndex(a.Target.SectionID) >= 0 {
			return fmt.Errorf("%w: section %q already exists", ErrInvalidTarget, a.Target.SectionID)
		}
		sec := &Section{ID: a.Target.SectionID, Heading: p.Heading, Lines: []*Line{}}
		at := clamp(p.Index, 0, len(d.Sections))
		d.Sections = append(d.Sections, nil)
		copy(d.Sections[at+1:], d.Sections[at:])
		d.Sections[at] = sec
		return nil
	case OpUpdate:
		sec := d.FindSection(a.Target.SectionID)
		if sec == nil {
			return fmt.Errorf("%w: section %q", ErrInvalidTarget, a.Target.SectionID)
		}
		sec.Heading = p.Heading
		return nil
	case OpDelete:
		si := d.sectionIndex(a.Target.SectionID)
		if si < 0 {
			return fmt.Errorf("%w: section %q", ErrInvalidTarget, a.Target.SectionID)
		}
		d.Sections = append(d.Sections[:si], d.Sections[si+1:]...)
		return nil
	case OpMove:
		si := d.sectionIndex(a.Target.SectionID)
		if si < 0 {
			return fmt.Errorf("%w: section %q", ErrInvalidTarget, a.Target.SectionID)
		}
		if a.Target.LineID != "" {
			sec := d.Sections[si]
			li := sec.lineIndex(a.Target.LineID)
			if li < 0 {
				return fmt.Errorf("%w: line %q", ErrInvalidTarget, a.Target.LineID)
			}
			ln := sec.Lines[li]
			sec.Lines = append(sec.Lines[:li], sec.Lines[li+1:]...)
			at := clamp(p.Index, 0, len(sec.Lines))
			sec.Lines = append(sec.Lines, nil)
			copy(sec.Lines[at+1:], sec.Lines[at:])
			sec.Lines[at] = ln
			return nil
		}
		sec := d.Sections[si]
		d.Sections = append(d.Sections[:si], d.Sections[si+1:]...)
		at := clamp(p.Index, 0, len(d.Sections))
		d.Sections = append(d.Sections, nil)
		copy(d.Sections[at+1:], d.Sections[at:])
		d.Sections[at] = sec
		return nil
	}
	return fmt.Errorf("%w: op %q not valid for structure edits", ErrInvalidTarget, a.Op)
}

func (d *Document) applyMetadata(a EditAction, p MetadataPayload) error {
	sec := d.FindSection(a.Target.SectionID)
	if sec == nil {
		return fmt.Errorf("%w: section %q", ErrInvalidTarget, a.Target.SectionID)
	}
	switch a.Op {
	case OpAdd, OpUpdate:
		if sec.Meta == nil {
			sec.Meta = map[string]string{}
		}
		for k, v := range p.Fields {
			sec.Meta[k] = v
		}
		return nil
	case OpDelete:
		for k := range p.Fields {
			delete(sec.Meta, k)
		}
		return nil
	}
	return fmt.Errorf("%w: op %q not valid for metadata edits", ErrInvalidTarget, a.Op)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
