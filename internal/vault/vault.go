// Package vault implements file-system CRUD over markdown documents:
// atomic writes, path computation, and change notification (spec.md 4.4).
package vault

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/schema"
)

// DeleteMode selects soft (archive) or hard (remove) deletion (4.4).
type DeleteMode int

const (
	DeleteSoft DeleteMode = iota
	DeleteHard
)

// Vault owns file-system CRUD for a single vault root directory.
type Vault struct {
	Root     string
	Registry *schema.Registry
	Rejects  *gate.RejectionLog
	Now      func() time.Time // overridable for tests
}

// New constructs a Vault rooted at root, backed by the given schema
// registry for gate admission.
func New(root string, registry *schema.Registry) *Vault {
	return &Vault{
		Root:     root,
		Registry: registry,
		Rejects:  gate.NewRejectionLog(root),
		Now:      time.Now,
	}
}

// CreateResult carries the outcome of Create: exactly one of Path or
// Rejection is non-empty.
type CreateResult struct {
	Doc        *core.Document
	Path       string // vault-relative
	Rejection  *gate.Rejected
}

// Create passes doc through the Temporal Gate, computes its path, and
// writes it atomically. On rejection, the original payload (doc
// re-serialised as submitted) is recorded to the rejection log and no
// file is written.
func (v *Vault) Create(doc *core.Document, extraction gate.Candidate) (CreateResult, error) {
	now := v.Now()
	extraction.Doc = doc
	outcome := gate.Admit(extraction, v.Registry, now)
	if !outcome.Admitted() {
		payload := core.SerialiseDocument(doc)
		if err := v.Rejects.Record(doc.ID, payload, outcome.Rejection, now); err != nil {
			return CreateResult{}, fmt.Errorf("record rejection: %w", err)
		}
		return CreateResult{Rejection: outcome.Rejection}, nil
	}

	doc.CreatedAt = now
	doc.ModifiedAt = now

	slug := doc.ID
	if slug == "" {
		slug = Slugify(firstLine(doc.Body))
	}
	relPath, err := ComputePath(v.Root, doc.Type, slug)
	if err != nil {
		return CreateResult{}, err
	}

	if err := v.writeAtomic(relPath, doc); err != nil {
		return CreateResult{}, err
	}

	rel, _ := filepath.Rel(v.Root, relPath)
	return CreateResult{Doc: doc, Path: rel}, nil
}

// Read parses the document stored at the given vault-relative path.
func (v *Vault) Read(relPath string) (*core.Document, error) {
	data, err := os.ReadFile(filepath.Join(v.Root, relPath))
	if err != nil {
		return nil, &core.IOError{Op: "read", Err: err}
	}
	doc, err := core.ParseFrontmatter(data)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(filepath.Join(v.Root, relPath))
	if statErr == nil {
		doc.ModifiedAt = info.ModTime()
	}
	return doc, nil
}

// Patch is a partial update applied by Update: read-modify-write.
type Patch func(doc *core.Document)

// Update reads the document at relPath, applies patch, preserves
// _created_at, bumps _modified_at, and re-runs it through the gate
// before writing (4.4).
func (v *Vault) Update(relPath string, patch Patch, extraction gate.Candidate) (CreateResult, error) {
	doc, err := v.Read(relPath)
	if err != nil {
		return CreateResult{}, err
	}
	createdAt := doc.CreatedAt
	patch(doc)
	doc.CreatedAt = createdAt
	doc.ModifiedAt = v.Now()

	extraction.Doc = doc
	outcome := gate.Admit(extraction, v.Registry, v.Now())
	if !outcome.Admitted() {
		payload := core.SerialiseDocument(doc)
		if err := v.Rejects.Record(doc.ID, payload, outcome.Rejection, v.Now()); err != nil {
			return CreateResult{}, fmt.Errorf("record rejection: %w", err)
		}
		return CreateResult{Rejection: outcome.Rejection}, nil
	}

	if err := v.writeAtomic(filepath.Join(v.Root, relPath), doc); err != nil {
		return CreateResult{}, err
	}
	return CreateResult{Doc: doc, Path: relPath}, nil
}

// Delete removes or archives the document at relPath per mode (4.4).
// Soft delete moves the file under archive/ preserving its relative
// path; hard delete removes it outright. The caller is responsible for
// removing/tombstoning the corresponding index rows.
func (v *Vault) Delete(relPath string, mode DeleteMode) error {
	full := filepath.Join(v.Root, relPath)
	switch mode {
	case DeleteHard:
		if err := os.Remove(full); err != nil {
			return &core.IOError{Op: "delete", Err: err}
		}
		return nil
	case DeleteSoft:
		archived := ArchivePath(v.Root, relPath)
		if err := os.MkdirAll(filepath.Dir(archived), 0o755); err != nil {
			return &core.IOError{Op: "archive-mkdir", Err: err}
		}
		if err := os.Rename(full, archived); err != nil {
			return &core.IOError{Op: "archive-move", Err: err}
		}
		return nil
	default:
		return fmt.Errorf("unknown delete mode %v", mode)
	}
}

// Supersede writes a new version of a logical entity: the new document
// is created normally, and the predecessor's frontmatter is updated in
// place with superseded_by/superseded_at (vault is append-oriented for
// version chains, 4.4).
func (v *Vault) Supersede(predecessorPath string, next *core.Document, extraction gate.Candidate) (CreateResult, error) {
	res, err := v.Create(next, extraction)
	if err != nil || res.Rejection != nil {
		return res, err
	}

	_, err = v.Update(predecessorPath, func(doc *core.Document) {
		doc.SupersededBy = next.ID
		t := next.ObservedAt
		doc.SupersededAt = &t
	}, gate.Candidate{CallerOverride: &next.ObservedAt})
	if err != nil {
		return res, fmt.Errorf("mark predecessor superseded: %w", err)
	}
	return res, nil
}

// writeAtomic serialises doc and writes it via temp-file + rename
// (natefinch/atomic), matching the teacher's atomic.WriteFile idiom for
// every on-disk mutation (e.g. the companion repo's ticket.go).
func (v *Vault) writeAtomic(path string, doc *core.Document) error {
	content := core.SerialiseDocument(doc)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &core.IOError{Op: "mkdir", Err: err}
	}
	if err := atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return &core.IOError{Op: "write", Err: err}
	}
	return nil
}

func firstLine(body string) string {
	body = strings.TrimPrefix(body, "\n")
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimPrefix(body, "# ")
}
