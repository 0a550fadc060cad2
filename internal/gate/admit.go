package gate

import (
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/schema"
)

// RejectionReason enumerates the five admission-failure sub-reasons
// (spec.md §7.1) plus invariant_violation. Admit returns only
// no_source_timestamp, explicit_user_refusal and invariant_violation;
// the other three are defined but never returned. The gate never falls
// back to wall-clock time.
type RejectionReason string

const (
	ReasonNoSourceTimestamp  RejectionReason = "no_source_timestamp"
	ReasonNoUserOverride     RejectionReason = "no_user_override"
	ReasonNoMetadataAnchor   RejectionReason = "no_metadata_anchor"
	ReasonAILowConfidence    RejectionReason = "ai_low_confidence"
	ReasonExplicitRefusal    RejectionReason = "explicit_user_refusal"
	ReasonInvariantViolation RejectionReason = "invariant_violation"
)

// aiInferredConfidencePenalty is subtracted from base confidence when
// the extraction chain falls through to an AI-inferred anchor (4.3 step 1d).
const aiInferredConfidencePenalty = 0.15

// Candidate is a document on its way through the gate, plus the inputs
// the extraction chain consults when observed_at is absent from
// frontmatter. AIAnchor/CallerOverride/MetadataAnchor are populated by
// the caller (Vault) in priority order; a nil field means "not available."
type Candidate struct {
	Doc *core.Document

	CallerOverride *time.Time // (b) explicit caller-supplied timestamp
	MetadataAnchor *time.Time // (c) file mtime or filename date pattern
	AIAnchor       *time.Time // (d) AI-inferred anchor
	UserRefused    bool       // caller explicitly declined to supply a timestamp
}

// Rejected is returned when admission fails; Attempts records which
// extraction-chain steps were tried and why they did not resolve.
type Rejected struct {
	Reason     RejectionReason
	Attempts   []string
	Suggestion string
}

// Outcome is the result of Admit: exactly one of Doc or Rejection is set.
type Outcome struct {
	Doc        *core.Document
	Rejection  *Rejected
	Contradict []Contradiction
}

func (o Outcome) Admitted() bool { return o.Rejection == nil }

// Admit runs the full admission contract (4.3): resolves observed_at via
// the extraction chain if absent, defaults temporal_precision, computes
// valid_until from the decay profile if absent, enforces I1/I2/I3, and
// returns Admitted or Rejected. now is injected for testability.
func Admit(c Candidate, reg *schema.Registry, now time.Time) Outcome {
	doc := c.Doc
	var attempts []string

	if doc.ObservedAt.IsZero() {
		resolved, reason, att := resolveObservedAt(c)
		attempts = append(attempts, att...)
		if reason != "" {
			return Outcome{Rejection: &Rejected{
				Reason:     reason,
				Attempts:   attempts,
				Suggestion: suggestionFor(reason),
			}}
		}
		doc.ObservedAt = resolved.t
		if resolved.precisionForced {
			doc.TemporalPrecision = core.PrecisionInferred
			doc.Confidence -= aiInferredConfidencePenalty
			if doc.Confidence < 0 {
				doc.Confidence = 0
			}
		}
	}

	if doc.TemporalPrecision == "" {
		doc.TemporalPrecision = core.PrecisionInferred
	}
	if !doc.TemporalPrecision.Valid() {
		return Outcome{Rejection: &Rejected{
			Reason:     ReasonInvariantViolation,
			Attempts:   attempts,
			Suggestion: "set temporal_precision to one of exact|day|week|month|quarter|approximate|inferred",
		}}
	}

	if doc.ValidUntil.IsZero() {
		profile := ResolveProfile(reg, doc.Type)
		doc.ValidUntil = ComputeValidUntil(doc.ObservedAt, profile.HardExpiry.Duration, doc.TemporalPrecision)
		if doc.ValidUntil.IsZero() {
			// hard_expiry == never: give I2 something concrete to compare
			// against without granting an eternal document a fake deadline.
			doc.ValidUntil = doc.ObservedAt.AddDate(100, 0, 0)
		}
	}

	if doc.ValidUntil.Before(doc.ObservedAt) {
		return Outcome{Rejection: &Rejected{
			Reason:     ReasonInvariantViolation,
			Attempts:   attempts,
			Suggestion: "valid_until must not precede observed_at (I2)",
		}}
	}
	if doc.OccurredAt != nil && doc.OccurredAt.After(doc.ObservedAt) {
		return Outcome{Rejection: &Rejected{
			Reason:     ReasonInvariantViolation,
			Attempts:   attempts,
			Suggestion: "occurred_at must not be after observed_at (I3)",
		}}
	}

	return Outcome{Doc: doc}
}

type resolvedAnchor struct {
	t               time.Time
	precisionForced bool
}

// resolveObservedAt walks the extraction chain in priority order: source
// timestamp is assumed already present on Doc (checked by the caller);
// from here it's caller override, then metadata anchor, then AI anchor,
// then reject. Never falls back to wall-clock (4.3 step 1).
func resolveObservedAt(c Candidate) (resolvedAnchor, RejectionReason, []string) {
	var attempts []string

	if c.CallerOverride != nil {
		attempts = append(attempts, "caller_override: resolved")
		return resolvedAnchor{t: *c.CallerOverride}, "", attempts
	}
	attempts = append(attempts, "caller_override: absent")

	if c.MetadataAnchor != nil {
		attempts = append(attempts, "metadata_anchor: resolved")
		return resolvedAnchor{t: *c.MetadataAnchor}, "", attempts
	}
	attempts = append(attempts, "metadata_anchor: absent")

	if c.AIAnchor != nil {
		attempts = append(attempts, "ai_anchor: resolved (confidence penalty applied)")
		return resolvedAnchor{t: *c.AIAnchor, precisionForced: true}, "", attempts
	}
	attempts = append(attempts, "ai_anchor: absent")

	if c.UserRefused {
		return resolvedAnchor{}, ReasonExplicitRefusal, attempts
	}
	return resolvedAnchor{}, ReasonNoSourceTimestamp, attempts
}

func suggestionFor(reason RejectionReason) string {
	switch reason {
	case ReasonNoSourceTimestamp:
		return "add an observed_at field to the document's frontmatter, or supply a caller override"
	case ReasonNoUserOverride:
		return "supply a caller-provided timestamp override"
	case ReasonNoMetadataAnchor:
		return "the file carries no reliable mtime or filename date pattern; add observed_at explicitly"
	case ReasonAILowConfidence:
		return "the AI-inferred anchor's confidence was too low; confirm the timestamp manually"
	case ReasonExplicitRefusal:
		return "no timestamp was supplied and the caller declined to provide one; this document cannot be admitted"
	default:
		return "see the attempts log for which extraction-chain steps were tried"
	}
}
