package engine

import (
	"time"

	"storyforge/internal/collab/model"
)

// ConflictWindow is how far back two edits to overlapping targets count as
// concurrent.
const ConflictWindow = 5000 * time.Millisecond

type verdict int

const (
	verdictAccept verdict = iota
	verdictMerged
	verdictReject
)

type resolution struct {
	verdict   verdict
	edit      model.EditAction // payload may be rewritten by a merge
	conflicts []model.EditAction
	reason    string
}

// detectConflicts scans applied history for edits from other users whose
// target overlaps the candidate's and whose timestamp falls within the
// conflict window before the candidate. Pure function over its inputs.
func detectConflicts(history []model.EditAction, cand model.EditAction) []model.EditAction {
	var out []model.EditAction
	for _, prev := range history {
		if prev.UserID == cand.UserID {
			continue
		}
		delta := cand.Timestamp.Sub(prev.Timestamp)
		if delta < 0 || delta > ConflictWindow {
			continue
		}
		if prev.Target.Overlaps(cand.Target) {
			out = append(out, prev)
		}
	}
	return out
}

// resolve applies the session's conflict strategy to a candidate edit and
// its detected conflicts.
func resolve(strategy model.ConflictStrategy, cand model.EditAction, conflicts []model.EditAction) resolution {
	if len(conflicts) == 0 {
		return resolution{verdict: verdictAccept, edit: cand}
	}
	switch strategy {
	case model.StrategyFirstWriteWins:
		return resolution{
			verdict:   verdictReject,
			edit:      cand,
			conflicts: conflicts,
			reason:    "an earlier edit already touched this target",
		}
	case model.StrategyMerge:
		if merged, ok := mergeEdit(cand, conflicts); ok {
			return resolution{verdict: verdictMerged, edit: merged, conflicts: conflicts}
		}
		// Lossy merge degrades to first-write-wins.
		return resolution{
			verdict:   verdictReject,
			edit:      cand,
			conflicts: conflicts,
			reason:    "structural merge would lose changes",
		}
	default: // last-write-wins
		return resolution{verdict: verdictAccept, edit: cand, conflicts: conflicts}
	}
}

// mergeEdit attempts a lossless structural merge. Only metadata edits
// merge: the candidate's field set is unioned with the conflicting edits'
// fields, and any key present on both sides with differing values makes
// the merge lossy. Content and structure edits never merge.
func mergeEdit(cand model.EditAction, conflicts []model.EditAction) (model.EditAction, bool) {
	if cand.Kind != model.EditMetadata || (cand.Op != model.OpAdd && cand.Op != model.OpUpdate) {
		return cand, false
	}
	decoded, err := cand.DecodePayload()
	if err != nil {
		return cand, false
	}
	candFields := decoded.(model.MetadataPayload).Fields

	merged := make(map[string]string)
	for _, c := range conflicts {
		if c.Kind != model.EditMetadata || (c.Op != model.OpAdd && c.Op != model.OpUpdate) {
			return cand, false
		}
		prev, err := c.DecodePayload()
		if err != nil {
			return cand, false
		}
		for k, v := range prev.(model.MetadataPayload).Fields {
			if cv, ok := candFields[k]; ok && cv != v {
				return cand, false
			}
			merged[k] = v
		}
	}
	for k, v := range candFields {
		merged[k] = v
	}

	out := cand
	out.Payload = model.MarshalPayload(model.MetadataPayload{Fields: merged})
	return out, true
}
