package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// setupCommandTestVault creates a fully initialised vault under a
// temp directory and points --vault at it, so command RunE functions
// can be exercised directly without a real cwd-based auto-detect.
// Grounded on the teacher's setupCommandTestVault (cmd/same/search_cmd_test.go).
func setupCommandTestVault(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	oldOverride := vaultOverride
	vaultOverride = root
	t.Cleanup(func() { vaultOverride = oldOverride })

	if err := runInit(root); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	return root
}

// writeVaultNote writes a markdown note with frontmatter under root.
func writeVaultNote(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// captureCommandStdout runs fn with os.Stdout redirected and returns
// everything it printed. Grounded on the teacher's helper of the same name.
func captureCommandStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("io.Copy: %v", err)
	}
	return buf.String()
}
