package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/schema"
)

func testVault(t *testing.T) (*Vault, string) {
	t.Helper()
	root := t.TempDir()
	schemaDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(schemaDir, "project.yaml"), []byte("name: project\nfields: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := schema.LoadSchemas(schemaDir)
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	v := New(root, reg)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v.Now = func() time.Time { return fixed }
	return v, root
}

func TestCreateWritesAtomicallyAndAdmits(t *testing.T) {
	v, root := testVault(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &core.Document{ID: "proj-alpha", Type: "project", Confidence: 1.0, Body: "# Alpha\n\nBody.\n"}

	res, err := v.Create(doc, gate.Candidate{CallerOverride: &t0})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Rejection != nil {
		t.Fatalf("expected admission, got rejection: %+v", res.Rejection)
	}
	full := filepath.Join(root, res.Path)
	if _, statErr := os.Stat(full); statErr != nil {
		t.Fatalf("expected file at %s: %v", full, statErr)
	}
}

func TestCreateRejectedRecordsPayload(t *testing.T) {
	v, root := testVault(t)
	doc := &core.Document{ID: "proj-beta", Type: "project", Confidence: 1.0}

	res, err := v.Create(doc, gate.Candidate{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Rejection == nil {
		t.Fatal("expected a rejection when no timestamp source is available")
	}
	if _, statErr := os.Stat(filepath.Join(root, "_rejection_log.jsonl")); statErr != nil {
		t.Errorf("expected a rejection log file: %v", statErr)
	}
}

func TestUpdatePreservesCreatedAtAndBumpsModifiedAt(t *testing.T) {
	v, _ := testVault(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &core.Document{ID: "proj-gamma", Type: "project", Confidence: 1.0, Body: "# Gamma\n"}
	res, err := v.Create(doc, gate.Candidate{CallerOverride: &t0})
	if err != nil || res.Rejection != nil {
		t.Fatalf("Create failed: err=%v rejection=%+v", err, res.Rejection)
	}
	createdAt := doc.CreatedAt

	v.Now = func() time.Time { return t0.Add(time.Hour) }
	next := t0.Add(time.Hour)
	updated, err := v.Update(res.Path, func(d *core.Document) {
		d.Fields = map[string]any{"status": "done"}
	}, gate.Candidate{CallerOverride: &next})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Rejection != nil {
		t.Fatalf("expected admission, got rejection: %+v", updated.Rejection)
	}
	if !updated.Doc.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt changed: %v vs %v", updated.Doc.CreatedAt, createdAt)
	}
	if !updated.Doc.ModifiedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ModifiedAt not bumped: %v", updated.Doc.ModifiedAt)
	}
}

func TestSoftDeleteMovesToArchive(t *testing.T) {
	v, root := testVault(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &core.Document{ID: "proj-delta", Type: "project", Confidence: 1.0, Body: "# Delta\n"}
	res, err := v.Create(doc, gate.Candidate{CallerOverride: &t0})
	if err != nil || res.Rejection != nil {
		t.Fatalf("Create failed: err=%v rejection=%+v", err, res.Rejection)
	}

	if err := v.Delete(res.Path, DeleteSoft); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, res.Path)); statErr == nil {
		t.Error("expected original file to be gone after soft delete")
	}
	if _, statErr := os.Stat(ArchivePath(root, res.Path)); statErr != nil {
		t.Errorf("expected archived copy at %s: %v", ArchivePath(root, res.Path), statErr)
	}
}

func TestComputePathIncrementsOnCollision(t *testing.T) {
	root := t.TempDir()
	p1, err := ComputePath(root, "project", "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p1, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p2, err := ComputePath(root, "project", "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Errorf("expected collision to produce a distinct path, got %s twice", p1)
	}
}

func TestSlugify(t *testing.T) {
	if got := Slugify("Launch Plan Q1!!"); got != "launch-plan-q1" {
		t.Errorf("Slugify = %q", got)
	}
}
