package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSourceNote(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCreateAdmitsDocument(t *testing.T) {
	root := setupCommandTestVault(t)
	src := writeSourceNote(t, t.TempDir(), "alpha.md", `---
id: proj-alpha
type: project
observed_at: 2026-01-01T00:00:00Z
valid_until: 2026-06-01T00:00:00Z
temporal_precision: exact
confidence: 1.0
---
# Alpha
`)

	out := captureCommandStdout(t, func() {
		if err := runCreate(src, "", ""); err != nil {
			t.Fatalf("runCreate: %v", err)
		}
	})
	if out == "" {
		t.Errorf("expected a confirmation line, got empty output")
	}

	reg, idx, _, closeFn, err := openVault(root)
	if err != nil {
		t.Fatalf("openVault: %v", err)
	}
	defer closeFn()
	_ = reg

	var count int
	if err := idx.Conn().QueryRow("SELECT COUNT(*) FROM documents WHERE id = ?", "proj-alpha").Scan(&count); err != nil {
		t.Fatalf("query documents: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the created document to be indexed, count = %d", count)
	}
}

func TestRunCreateReturnsTemporalRejectionError(t *testing.T) {
	setupCommandTestVault(t)
	src := writeSourceNote(t, t.TempDir(), "beta.md", `---
id: proj-beta
type: project
observed_at: 2026-01-01T00:00:00Z
valid_until: 2025-01-01T00:00:00Z
temporal_precision: exact
confidence: 1.0
---
# Beta with an impossible validity window
`)

	err := runCreate(src, "", "")
	if err == nil {
		t.Fatal("expected an I2-violating document to be rejected")
	}
	if exitCode(err) != 4 {
		t.Errorf("exitCode(%v) = %d, want 4 (temporal rejection)", err, exitCode(err))
	}
}

func TestRunCreateSupersedesPriorVersion(t *testing.T) {
	root := setupCommandTestVault(t)
	first := writeSourceNote(t, t.TempDir(), "gamma-1.md", `---
id: proj-gamma
type: project
observed_at: 2026-01-01T00:00:00Z
valid_until: 2026-06-01T00:00:00Z
temporal_precision: exact
confidence: 1.0
---
# Gamma v1
`)
	if err := runCreate(first, "", ""); err != nil {
		t.Fatalf("runCreate (first): %v", err)
	}

	second := writeSourceNote(t, t.TempDir(), "gamma-2.md", `---
id: proj-gamma-2
type: project
observed_at: 2026-02-01T00:00:00Z
valid_until: 2026-07-01T00:00:00Z
temporal_precision: exact
confidence: 1.0
---
# Gamma v2
`)
	if err := runCreate(second, "", "project/proj-gamma-1.md"); err != nil {
		t.Fatalf("runCreate (supersede): %v", err)
	}

	_, idx, _, closeFn, err := openVault(root)
	if err != nil {
		t.Fatalf("openVault: %v", err)
	}
	defer closeFn()

	var supersededBy string
	if err := idx.Conn().QueryRow("SELECT superseded_by FROM documents WHERE id = ?", "proj-gamma").Scan(&supersededBy); err != nil {
		t.Fatalf("query: %v", err)
	}
	if supersededBy != "proj-gamma-2" {
		t.Errorf("superseded_by(proj-gamma) = %q, want proj-gamma-2", supersededBy)
	}
}
