package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/schema"
)

// RebuildStats summarises a full rebuild, surfaced by the CLI `reindex`
// subcommand.
type RebuildStats struct {
	Scanned  int
	Admitted int
	Rejected int
	Errors   []string
}

// Rebuild performs a full scan of vaultRoot and re-ingests every
// admissible document, producing an index bit-equivalent to one built
// by streaming every admission event (rebuild(vault) ≡ Σ ingest(admit(file)),
// §4.5). Grounded on the teacher's internal/indexer/indexer.go Reindex,
// generalised from its content-chunking worker pool to whole-document
// gate admission.
func Rebuild(idx *Index, vaultRoot string, registry *schema.Registry, rejects *gate.RejectionLog, now time.Time) (RebuildStats, error) {
	if err := idx.truncate(); err != nil {
		return RebuildStats{}, fmt.Errorf("truncate before rebuild: %w", err)
	}

	var stats RebuildStats
	err := filepath.WalkDir(vaultRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDir(d.Name()) && path != vaultRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".md") {
			return nil
		}

		stats.Scanned++
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, readErr))
			return nil
		}

		doc, parseErr := core.ParseFrontmatter(data)
		if parseErr != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, parseErr))
			return nil
		}

		info, statErr := d.Info()
		if statErr == nil {
			doc.ModifiedAt = info.ModTime()
			if doc.CreatedAt.IsZero() {
				doc.CreatedAt = info.ModTime()
			}
		}

		rel, _ := filepath.Rel(vaultRoot, path)
		outcome := gate.Admit(gate.Candidate{Doc: doc, MetadataAnchor: mtimeAnchor(info)}, registry, now)
		if !outcome.Admitted() {
			stats.Rejected++
			if rejects != nil {
				_ = rejects.Record(rel, data, outcome.Rejection, now)
			}
			return nil
		}

		if err := idx.Ingest(outcome.Doc, rel, registry); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: ingest: %v", path, err))
			return nil
		}
		stats.Admitted++
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, nil
}

func mtimeAnchor(info os.FileInfo) *time.Time {
	if info == nil {
		return nil
	}
	t := info.ModTime()
	return &t
}

func skipDir(name string) bool {
	switch name {
	case ".git", "archive", "rejected", ".mkb":
		return true
	default:
		return false
	}
}

// truncate clears every derived table ahead of a full rebuild, leaving
// schema_meta (and thus the migration version) intact.
func (idx *Index) truncate() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, stmt := range []string{
		`DELETE FROM documents`,
		`DELETE FROM field_values`,
		`DELETE FROM field_arrays`,
		`DELETE FROM links`,
		`DELETE FROM document_versions`,
		`DELETE FROM contradictions`,
	} {
		if _, err := idx.conn.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := idx.conn.Exec(`DELETE FROM content_fts`); err != nil {
		_ = err // FTS table may not exist.
	}
	return nil
}

// SweepStale counts the documents whose superseded_by is empty and
// whose valid_until is before now. It changes no rows: it does not mark
// documents stale, recompute effective confidence, or archive anything.
func (idx *Index) SweepStale(now time.Time) (int, error) {
	var count int
	err := idx.conn.QueryRow(
		`SELECT count(*) FROM documents WHERE superseded_by = '' AND valid_until < ?`,
		now.UTC().Format(timeFmt),
	).Scan(&count)
	return count, err
}
