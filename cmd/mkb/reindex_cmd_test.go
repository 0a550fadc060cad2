package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/viktorbezdek/mkb/internal/index"
)

func TestRunReindexScansAndAdmits(t *testing.T) {
	root := setupCommandTestVault(t)
	writeVaultNote(t, root, "project/alpha.md", `---
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
		if err := runReindex(false); err != nil {
			t.Fatalf("runReindex: %v", err)
		}
	})
	if !strings.Contains(out, "scanned:") || !strings.Contains(out, "admitted:") {
		t.Fatalf("expected plain-text stats, got %q", out)
	}
}

func TestRunReindexJSONOutput(t *testing.T) {
	root := setupCommandTestVault(t)
	writeVaultNote(t, root, "project/alpha.md", `---
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
		if err := runReindex(true); err != nil {
			t.Fatalf("runReindex: %v", err)
		}
	})

	var stats index.RebuildStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("expected JSON stats, got %q: %v", out, err)
	}
	if stats.Admitted != 1 {
		t.Errorf("Admitted = %d, want 1", stats.Admitted)
	}
}

func TestOpenVaultFailsWithoutInit(t *testing.T) {
	root := t.TempDir()
	_, _, _, _, err := openVault(root)
	if err == nil {
		t.Fatal("expected openVault to fail against an uninitialised directory")
	}
}
