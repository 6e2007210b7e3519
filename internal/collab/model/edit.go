package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type EditKind string

const (
	EditContent   EditKind = "content"
	EditStructure EditKind = "structure"
	EditMetadata  EditKind = "metadata"
)

type EditOp string

const (
	OpAdd    EditOp = "add"
	OpUpdate EditOp = "update"
	OpDelete EditOp = "delete"
	OpMove   EditOp = "move"
)

// EditTarget is a path into the document. SectionID is always required;
// LineID and SegmentID narrow the path when present.
type EditTarget struct {
	SectionID string `json:"section_id"`
	LineID    string `json:"line_id,omitempty"`
	SegmentID string `json:"segment_id,omitempty"`
}

// Overlaps reports whether two targets address the same region. A missing
// LineID/SegmentID matches any value at that level.
func (t EditTarget) Overlaps(o EditTarget) bool {
	if t.SectionID != o.SectionID {
		return false
	}
	if t.LineID != "" && o.LineID != "" && t.LineID != o.LineID {
		return false
	}
	if t.SegmentID != "" && o.SegmentID != "" && t.SegmentID != o.SegmentID {
		return false
	}
	return true
}

// EditAction is immutable once created; the history log is append-only.
type EditAction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Kind      EditKind        `json:"kind"`
	Target    EditTarget      `json:"target"`
	Op        EditOp          `json:"op"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int64           `json:"version"`
}

// ContentPayload carries text for a line or segment.
type ContentPayload struct {
	Text string `json:"text"`
}

// StructurePayload carries a section heading and, for move operations, the
// destination index.
type StructurePayload struct {
	Heading string `json:"heading,omitempty"`
	Index   int    `json:"index"`
}

// MetadataPayload carries free-form fields merged into the target's
// metadata map.
type MetadataPayload struct {
	Fields map[string]string `json:"fields"`
}

// DecodePayload maps the action's kind to its typed payload. The wire form
// stays raw JSON; everything past the gateway works with the typed variant.
func (a EditAction) DecodePayload() (any, error) {
	switch a.Kind {
	case EditContent:
		var p ContentPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode content payload: %w", err)
		}
		return p, nil
	case EditStructure:
		var p StructurePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode structure payload: %w", err)
		}
		return p, nil
	case EditMetadata:
		var p MetadataPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode metadata payload: %w", err)
		}
		if p.Fields == nil {
			p.Fields = map[string]string{}
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown edit kind %q", a.Kind)
}

func MarshalPayload(p any) json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}
