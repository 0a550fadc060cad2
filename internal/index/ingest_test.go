package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "project.yaml"), []byte(`
name: project
fields:
  status:
    type: string
  tags_extra:
    type: string[]
`), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := schema.LoadSchemas(dir)
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	return reg
}

func TestIngestAndQueryDocument(t *testing.T) {
	idx, err := OpenMemory(8)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer idx.Close()
	reg := testRegistry(t)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &core.Document{
		ID: "proj-alpha", Type: "project", Confidence: 0.9,
		TemporalFields: core.TemporalFields{
			ObservedAt: now, ValidUntil: now.AddDate(0, 1, 0), TemporalPrecision: core.PrecisionExact,
			CreatedAt: now, ModifiedAt: now,
		},
		Fields: map[string]any{"status": "active"},
		Tags:   []string{"launch", "q1"},
	}

	if err := idx.Ingest(doc, "project/alpha-1.md", reg); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var count int
	if err := idx.Conn().QueryRow(`SELECT count(*) FROM documents WHERE id = ?`, "proj-alpha").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 document row, got %d", count)
	}

	var fieldCount int
	if err := idx.Conn().QueryRow(`SELECT count(*) FROM field_values WHERE doc_id = ? AND field_name = 'status'`, "proj-alpha").Scan(&fieldCount); err != nil {
		t.Fatalf("query field_values: %v", err)
	}
	if fieldCount != 1 {
		t.Errorf("expected 1 field_values row for status, got %d", fieldCount)
	}

	var tagCount int
	if err := idx.Conn().QueryRow(`SELECT count(*) FROM field_arrays WHERE doc_id = ? AND field_name = 'tags'`, "proj-alpha").Scan(&tagCount); err != nil {
		t.Fatalf("query field_arrays: %v", err)
	}
	if tagCount != 2 {
		t.Errorf("expected 2 tags rows, got %d", tagCount)
	}
}

func TestIngestReplacesOnReingest(t *testing.T) {
	idx, err := OpenMemory(8)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer idx.Close()
	reg := testRegistry(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(status string) *core.Document {
		return &core.Document{
			ID: "proj-alpha", Type: "project", Confidence: 0.9,
			TemporalFields: core.TemporalFields{
				ObservedAt: now, ValidUntil: now.AddDate(0, 1, 0), TemporalPrecision: core.PrecisionExact,
				CreatedAt: now, ModifiedAt: now,
			},
			Fields: map[string]any{"status": status},
		}
	}

	if err := idx.Ingest(mk("active"), "project/alpha-1.md", reg); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := idx.Ingest(mk("done"), "project/alpha-1.md", reg); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	var count int
	if err := idx.Conn().QueryRow(`SELECT count(*) FROM field_values WHERE doc_id = ?`, "proj-alpha").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected field_values to be replaced not appended, got %d rows", count)
	}

	var status string
	if err := idx.Conn().QueryRow(`SELECT value_text FROM field_values WHERE doc_id = ? AND field_name = 'status'`, "proj-alpha").Scan(&status); err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status != "done" {
		t.Errorf("status = %q, want %q", status, "done")
	}
}

func TestSweepStaleCountsExpired(t *testing.T) {
	idx, err := OpenMemory(8)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer idx.Close()
	reg := testRegistry(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	expired := &core.Document{
		ID: "proj-old", Type: "project", Confidence: 1.0,
		TemporalFields: core.TemporalFields{
			ObservedAt: now.AddDate(-1, 0, 0), ValidUntil: now.AddDate(0, -1, 0), TemporalPrecision: core.PrecisionExact,
			CreatedAt: now, ModifiedAt: now,
		},
		Fields: map[string]any{},
	}
	if err := idx.Ingest(expired, "project/old-1.md", reg); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	count, err := idx.SweepStale(now)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 stale document, got %d", count)
	}
}

func TestTraverseLinksFollowsForwardDirection(t *testing.T) {
	idx, err := OpenMemory(8)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer idx.Close()
	reg := testRegistry(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(id string, links []core.Link) *core.Document {
		return &core.Document{
			ID: id, Type: "project", Confidence: 1.0,
			TemporalFields: core.TemporalFields{
				ObservedAt: now, ValidUntil: now.AddDate(0, 1, 0), TemporalPrecision: core.PrecisionExact,
				CreatedAt: now, ModifiedAt: now,
			},
			Fields: map[string]any{},
			Links:  links,
		}
	}

	if err := idx.Ingest(mk("a", []core.Link{{Rel: "blocks", Target: "b", ObservedAt: now}}), "project/a-1.md", reg); err != nil {
		t.Fatalf("ingest a: %v", err)
	}
	if err := idx.Ingest(mk("b", []core.Link{{Rel: "blocks", Target: "c", ObservedAt: now}}), "project/b-1.md", reg); err != nil {
		t.Fatalf("ingest b: %v", err)
	}
	if err := idx.Ingest(mk("c", nil), "project/c-1.md", reg); err != nil {
		t.Fatalf("ingest c: %v", err)
	}

	steps, err := idx.TraverseLinks("a", "blocks", DirectionForward, 5)
	if err != nil {
		t.Fatalf("TraverseLinks: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 hops (a->b, b->c), got %d: %+v", len(steps), steps)
	}
	found := map[string]bool{}
	for _, s := range steps {
		found[s.DocID] = true
	}
	if !found["b"] || !found["c"] {
		t.Errorf("expected traversal to reach b and c, got %+v", steps)
	}
}

// TestResolveEntityConflictsSameIDRoot exercises the implicit half of
// 4.3.2's dual supersession trigger (S3): proj-x-001 and proj-x-002 carry
// no explicit supersedes pointer, but share the id root "proj-x", so the
// later observation must still supersede the earlier one.
func TestResolveEntityConflictsSameIDRoot(t *testing.T) {
	idx, err := OpenMemory(8)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer idx.Close()
	reg := testRegistry(t)

	t1 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	a := &core.Document{
		ID: "proj-x-001", Type: "project", Confidence: 0.9,
		TemporalFields: core.TemporalFields{
			ObservedAt: t1, ValidUntil: t1.AddDate(0, 2, 0), TemporalPrecision: core.PrecisionExact,
			CreatedAt: t1, ModifiedAt: t1,
		},
		Fields: map[string]any{"status": "in_progress"},
	}
	b := &core.Document{
		ID: "proj-x-002", Type: "project", Confidence: 0.9,
		TemporalFields: core.TemporalFields{
			ObservedAt: t2, ValidUntil: t2.AddDate(0, 2, 0), TemporalPrecision: core.PrecisionExact,
			CreatedAt: t2, ModifiedAt: t2,
		},
		Fields: map[string]any{"status": "blocked"},
	}

	if err := idx.Ingest(a, "project/proj-x-001-1.md", reg); err != nil {
		t.Fatalf("ingest a: %v", err)
	}
	if err := idx.Ingest(b, "project/proj-x-002-1.md", reg); err != nil {
		t.Fatalf("ingest b: %v", err)
	}

	var supersededBy string
	if err := idx.Conn().QueryRow(`SELECT superseded_by FROM documents WHERE id = ?`, "proj-x-001").Scan(&supersededBy); err != nil {
		t.Fatalf("query a: %v", err)
	}
	if supersededBy != "proj-x-002" {
		t.Errorf("superseded_by(proj-x-001) = %q, want proj-x-002", supersededBy)
	}

	var liveCount int
	if err := idx.Conn().QueryRow(`SELECT count(*) FROM documents WHERE type = 'project' AND superseded_by = ''`).Scan(&liveCount); err != nil {
		t.Fatalf("query live: %v", err)
	}
	if liveCount != 1 {
		t.Errorf("expected only proj-x-002 to remain current, got %d live rows", liveCount)
	}
}
