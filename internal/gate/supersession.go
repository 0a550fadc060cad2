package gate

import (
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
)

// Contradiction records a detected conflict between two versions of the
// same logical entity on an indexed field, for the contradictions table
// (spec.md §4.5, 4.3.2). Recording a contradiction never blocks admission.
type Contradiction struct {
	EntityID   string
	WinnerID   string
	LoserID    string
	Field      string
	WinnerVal  any
	LoserVal   any
	DetectedAt time.Time
}

// ResolveSupersession decides which of two versions of the same logical
// entity wins, per 4.3.2's tie-break chain: observed_at descending, then
// confidence descending, then id lexicographically larger. Returns
// (winner, loser) in that order; callers set loser.SupersededBy =
// winner.ID and loser.SupersededAt = winner.ObservedAt.
func ResolveSupersession(a, b *core.Document) (winner, loser *core.Document) {
	if a.ObservedAt.After(b.ObservedAt) {
		return a, b
	}
	if b.ObservedAt.After(a.ObservedAt) {
		return b, a
	}
	if a.Confidence > b.Confidence {
		return a, b
	}
	if b.Confidence > a.Confidence {
		return b, a
	}
	if a.ID > b.ID {
		return a, b
	}
	return b, a
}

// ApplySupersession mutates loser in place to record the supersession
// edge (I5, P8): loser.SupersededBy = winner.ID, loser.SupersededAt =
// winner.ObservedAt. The winner is left untouched.
func ApplySupersession(winner, loser *core.Document) {
	loser.SupersededBy = winner.ID
	t := winner.ObservedAt
	loser.SupersededAt = &t
}

// DetectFieldContradictions compares every field present on both
// documents (the EAV-indexed subset, approximated here as doc.Fields)
// and reports the ones that disagree, attributing win/loss per
// ResolveSupersession. The caller persists these rows to the
// contradictions table for audit without blocking admission.
func DetectFieldContradictions(entityID string, a, b *core.Document, now time.Time) []Contradiction {
	winner, loser := ResolveSupersession(a, b)
	var out []Contradiction
	for field, winVal := range winner.Fields {
		loseVal, ok := loser.Fields[field]
		if !ok {
			continue
		}
		if !valuesEqual(winVal, loseVal) {
			out = append(out, Contradiction{
				EntityID: entityID, WinnerID: winner.ID, LoserID: loser.ID,
				Field: field, WinnerVal: winVal, LoserVal: loseVal, DetectedAt: now,
			})
		}
	}
	return out
}

func valuesEqual(a, b any) bool {
	af, aok := toFloatAny(a)
	bf, bok := toFloatAny(b)
	if aok && bok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return false
}

func toFloatAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}
