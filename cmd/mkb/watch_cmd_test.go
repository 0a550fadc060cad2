package main

import (
	"testing"

	"github.com/viktorbezdek/mkb/internal/vault"
)

func TestHandleWatchEventIngestsAdmissibleCreate(t *testing.T) {
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

	reg, idx, rejects, closeFn, err := openVault(root)
	if err != nil {
		t.Fatalf("openVault: %v", err)
	}
	defer closeFn()

	handleWatchEvent(idx, reg, rejects, root, vault.Event{Kind: vault.Created, Path: "project/alpha.md"})

	var count int
	if err := idx.Conn().QueryRow("SELECT COUNT(*) FROM documents WHERE id = ?", "proj-alpha").Scan(&count); err != nil {
		t.Fatalf("query documents: %v", err)
	}
	if count != 1 {
		t.Errorf("expected admitted note to be ingested, count = %d", count)
	}
}

func TestHandleWatchEventRecordsRejection(t *testing.T) {
	root := setupCommandTestVault(t)
	// valid_until before observed_at violates I2 regardless of which
	// anchor resolves observed_at, so this is rejected unconditionally.
	writeVaultNote(t, root, "project/beta.md", `---
id: proj-beta
type: project
observed_at: 2026-01-01T00:00:00Z
valid_until: 2025-01-01T00:00:00Z
temporal_precision: exact
confidence: 1.0
---
# Beta with an impossible validity window
`)

	reg, idx, rejects, closeFn, err := openVault(root)
	if err != nil {
		t.Fatalf("openVault: %v", err)
	}
	defer closeFn()

	handleWatchEvent(idx, reg, rejects, root, vault.Event{Kind: vault.Modified, Path: "project/beta.md"})

	var count int
	if err := idx.Conn().QueryRow("SELECT COUNT(*) FROM documents WHERE id = ?", "proj-beta").Scan(&count); err != nil {
		t.Fatalf("query documents: %v", err)
	}
	if count != 0 {
		t.Errorf("expected an I2-violating document to be rejected, not ingested")
	}
}

func TestHandleWatchEventDeleteRemovesFromIndex(t *testing.T) {
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

	reg, idx, rejects, closeFn, err := openVault(root)
	if err != nil {
		t.Fatalf("openVault: %v", err)
	}
	defer closeFn()

	handleWatchEvent(idx, reg, rejects, root, vault.Event{Kind: vault.Created, Path: "project/alpha.md"})
	handleWatchEvent(idx, reg, rejects, root, vault.Event{Kind: vault.Deleted, Path: "project/alpha.md"})

	var count int
	if err := idx.Conn().QueryRow("SELECT COUNT(*) FROM documents WHERE id = ?", "proj-alpha").Scan(&count); err != nil {
		t.Fatalf("query documents: %v", err)
	}
	if count != 0 {
		t.Errorf("expected delete event to remove the document, count = %d", count)
	}
}
