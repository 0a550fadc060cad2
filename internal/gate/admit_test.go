package gate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/schema"
)

func emptyRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "project.yaml"), []byte("name: project\nfields: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := schema.LoadSchemas(dir)
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	return reg
}

func TestAdmitRejectsWithNoTimestampSource(t *testing.T) {
	reg := emptyRegistry(t)
	doc := &core.Document{ID: "x-1", Type: "project", Confidence: 1.0}
	out := Admit(Candidate{Doc: doc}, reg, time.Now())
	if out.Admitted() {
		t.Fatal("expected rejection when no timestamp source is available")
	}
	if out.Rejection.Reason != ReasonNoSourceTimestamp {
		t.Errorf("reason = %v, want %v", out.Rejection.Reason, ReasonNoSourceTimestamp)
	}
}

func TestAdmitResolvesCallerOverride(t *testing.T) {
	reg := emptyRegistry(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &core.Document{ID: "x-1", Type: "project", Confidence: 1.0}
	out := Admit(Candidate{Doc: doc, CallerOverride: &t0}, reg, t0.Add(time.Hour))
	if !out.Admitted() {
		t.Fatalf("expected admission, got rejection: %+v", out.Rejection)
	}
	if !out.Doc.ObservedAt.Equal(t0) {
		t.Errorf("ObservedAt = %v, want %v", out.Doc.ObservedAt, t0)
	}
	if out.Doc.ValidUntil.IsZero() {
		t.Error("expected a computed valid_until")
	}
}

func TestAdmitAIAnchorAppliesPenaltyAndForcesInferred(t *testing.T) {
	reg := emptyRegistry(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &core.Document{ID: "x-1", Type: "project", Confidence: 0.9}
	out := Admit(Candidate{Doc: doc, AIAnchor: &t0}, reg, t0.Add(time.Hour))
	if !out.Admitted() {
		t.Fatalf("expected admission via AI anchor, got: %+v", out.Rejection)
	}
	if out.Doc.TemporalPrecision != core.PrecisionInferred {
		t.Errorf("precision = %v, want inferred", out.Doc.TemporalPrecision)
	}
	if diff := out.Doc.Confidence - 0.75; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want ~0.75 after penalty", out.Doc.Confidence)
	}
}

func TestAdmitRejectsInvariantViolationI2(t *testing.T) {
	reg := emptyRegistry(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := t0.Add(-time.Hour)
	doc := &core.Document{
		ID: "x-1", Type: "project", Confidence: 1.0,
		TemporalFields: core.TemporalFields{ObservedAt: t0, ValidUntil: past, TemporalPrecision: core.PrecisionExact},
	}
	out := Admit(Candidate{Doc: doc}, reg, t0)
	if out.Admitted() {
		t.Fatal("expected I2 violation to reject")
	}
}

func TestAdmitRejectsInvariantViolationI3(t *testing.T) {
	reg := emptyRegistry(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := t0.Add(time.Hour)
	doc := &core.Document{
		ID: "x-1", Type: "project", Confidence: 1.0,
		TemporalFields: core.TemporalFields{ObservedAt: t0, OccurredAt: &future, TemporalPrecision: core.PrecisionExact},
	}
	out := Admit(Candidate{Doc: doc}, reg, t0)
	if out.Admitted() {
		t.Fatal("expected I3 violation to reject")
	}
}

func TestEffectiveConfidenceDecaysAndFloors(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	half := 10 * 24 * time.Hour
	if e := EffectiveConfidence(1.0, t0, t0, half); e != 1.0 {
		t.Errorf("E(t0) = %v, want 1.0", e)
	}
	if e := EffectiveConfidence(1.0, t0, t0.Add(half), half); e < 0.49 || e > 0.51 {
		t.Errorf("E(t0+h) = %v, want ~0.5", e)
	}
	if e := EffectiveConfidence(1.0, t0, t0.Add(100*half), half); e != 0 {
		t.Errorf("E(t0+100h) = %v, want 0 (floored)", e)
	}
	if e := EffectiveConfidence(1.0, t0, t0.Add(1000*24*time.Hour), 0); e != 1.0 {
		t.Errorf("never-decay profile should hold confidence steady, got %v", e)
	}
}

func TestResolveSupersessionTieBreaks(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := t0.Add(time.Hour)

	a := &core.Document{ID: "a", TemporalFields: core.TemporalFields{ObservedAt: t0}}
	b := &core.Document{ID: "b", TemporalFields: core.TemporalFields{ObservedAt: later}}
	winner, loser := ResolveSupersession(a, b)
	if winner.ID != "b" || loser.ID != "a" {
		t.Errorf("expected later observed_at to win, got winner=%s loser=%s", winner.ID, loser.ID)
	}

	c := &core.Document{ID: "c", Confidence: 0.5, TemporalFields: core.TemporalFields{ObservedAt: t0}}
	d := &core.Document{ID: "d", Confidence: 0.9, TemporalFields: core.TemporalFields{ObservedAt: t0}}
	winner, loser = ResolveSupersession(c, d)
	if winner.ID != "d" || loser.ID != "c" {
		t.Errorf("expected higher confidence to win on observed_at tie, got winner=%s", winner.ID)
	}

	e := &core.Document{ID: "e", Confidence: 0.5, TemporalFields: core.TemporalFields{ObservedAt: t0}}
	f := &core.Document{ID: "f", Confidence: 0.5, TemporalFields: core.TemporalFields{ObservedAt: t0}}
	winner, loser = ResolveSupersession(e, f)
	if winner.ID != "f" {
		t.Errorf("expected lexicographically larger id to win full tie, got winner=%s", winner.ID)
	}

	ApplySupersession(winner, loser)
	if loser.SupersededBy != winner.ID {
		t.Errorf("SupersededBy = %q, want %q", loser.SupersededBy, winner.ID)
	}
}

func TestRejectionLogRecordsPayloadAndLine(t *testing.T) {
	dir := t.TempDir()
	l := NewRejectionLog(dir)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rej := &Rejected{Reason: ReasonNoSourceTimestamp, Attempts: []string{"caller_override: absent"}, Suggestion: "add observed_at"}

	if err := l.Record("notes/untimed.md", []byte("raw payload"), rej, now); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "rejected"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one payload file, got %v (err=%v)", entries, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "_rejection_log.jsonl"))
	if err != nil {
		t.Fatalf("read rejection log: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected a non-empty rejection log line")
	}
}
