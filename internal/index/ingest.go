package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/schema"
)

// timeFmt is the canonical on-disk timestamp representation for index
// columns: RFC3339 in UTC, sortable lexicographically.
const timeFmt = time.RFC3339

// Ingest upserts doc into documents and the EAV tables, updates FTS,
// marks its embedding dirty, and maintains the version chain and
// contradictions table against any existing version of the same
// logical entity (4.5 ingest contract).
func (idx *Index) Ingest(doc *core.Document, path string, registry *schema.Registry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	tx, err := idx.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertDocument(tx, doc, path); err != nil {
		return err
	}
	if err := replaceFieldValues(tx, doc, registry); err != nil {
		return err
	}
	if err := replaceLinks(tx, doc); err != nil {
		return err
	}
	if err := upsertFTS(tx, doc); err != nil {
		return err
	}
	if err := recordVersion(tx, doc); err != nil {
		return err
	}
	if err := resolveEntityConflicts(tx, doc); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertDocument(tx *sql.Tx, doc *core.Document, path string) error {
	var occurredAt any
	if doc.OccurredAt != nil {
		occurredAt = doc.OccurredAt.UTC().Format(timeFmt)
	}
	var supersededAt any
	if doc.SupersededAt != nil {
		supersededAt = doc.SupersededAt.UTC().Format(timeFmt)
	}

	_, err := tx.Exec(`
		INSERT INTO documents (
			id, type, path, confidence, observed_at, valid_until, temporal_precision,
			occurred_at, created_at, modified_at, source, source_hash, provenance,
			supersedes, superseded_by, superseded_at, body, embedding_dirty
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, path = excluded.path, confidence = excluded.confidence,
			observed_at = excluded.observed_at, valid_until = excluded.valid_until,
			temporal_precision = excluded.temporal_precision, occurred_at = excluded.occurred_at,
			modified_at = excluded.modified_at, source = excluded.source,
			source_hash = excluded.source_hash, provenance = excluded.provenance,
			supersedes = excluded.supersedes, superseded_by = excluded.superseded_by,
			superseded_at = excluded.superseded_at, body = excluded.body, embedding_dirty = 1
	`,
		doc.ID, doc.Type, path, doc.Confidence,
		doc.ObservedAt.UTC().Format(timeFmt), doc.ValidUntil.UTC().Format(timeFmt), string(doc.TemporalPrecision),
		occurredAt, doc.CreatedAt.UTC().Format(timeFmt), doc.ModifiedAt.UTC().Format(timeFmt),
		doc.Source, doc.SourceHash, doc.Method,
		doc.Supersedes, doc.SupersededBy, supersededAt, doc.Body,
	)
	return err
}

// replaceFieldValues recomputes the EAV rows for doc from scratch: this
// keeps ingest idempotent (re-ingesting the same doc id replaces, not
// appends).
func replaceFieldValues(tx *sql.Tx, doc *core.Document, registry *schema.Registry) error {
	if _, err := tx.Exec(`DELETE FROM field_values WHERE doc_id = ?`, doc.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM field_arrays WHERE doc_id = ?`, doc.ID); err != nil {
		return err
	}

	s, _ := registry.Get(doc.Type)

	for name, v := range doc.Fields {
		fieldType := schema.TypeString
		if s != nil {
			if fd, ok := s.Fields[name]; ok {
				fieldType = fd.Type
			}
		}

		if fieldType == schema.TypeStrArray || fieldType == schema.TypeRefArray {
			items := toStringSlice(v)
			for i, item := range items {
				if _, err := tx.Exec(
					`INSERT INTO field_arrays (doc_id, field_name, position, value) VALUES (?, ?, ?, ?)`,
					doc.ID, name, i, item,
				); err != nil {
					return err
				}
			}
			continue
		}

		textVal, numVal := fieldColumns(fieldType, v)
		if _, err := tx.Exec(
			`INSERT INTO field_values (doc_id, field_name, field_type, value_text, value_num) VALUES (?, ?, ?, ?, ?)`,
			doc.ID, name, string(fieldType), textVal, numVal,
		); err != nil {
			return err
		}
	}

	if len(doc.Tags) > 0 {
		for i, tag := range doc.Tags {
			if _, err := tx.Exec(
				`INSERT INTO field_arrays (doc_id, field_name, position, value) VALUES (?, 'tags', ?, ?)`,
				doc.ID, i, tag,
			); err != nil {
				return err
			}
		}
	}

	return nil
}

func fieldColumns(t schema.FieldType, v any) (textVal any, numVal any) {
	switch t {
	case schema.TypeInteger, schema.TypeFloat:
		if f, err := toFloat(v); err == nil {
			return nil, f
		}
		return fmt.Sprintf("%v", v), nil
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return nil, 1.0
			}
			return nil, 0.0
		}
		return fmt.Sprintf("%v", v), nil
	case schema.TypeMap, schema.TypeJSON:
		b, _ := json.Marshal(v)
		return string(b), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

func toStringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func replaceLinks(tx *sql.Tx, doc *core.Document) error {
	if _, err := tx.Exec(`DELETE FROM links WHERE source_doc = ?`, doc.ID); err != nil {
		return err
	}
	for _, l := range doc.Links {
		meta, err := json.Marshal(l.Metadata)
		if err != nil {
			meta = []byte("{}")
		}
		if _, err := tx.Exec(
			`INSERT INTO links (source_doc, rel, target_doc, observed_at, metadata) VALUES (?, ?, ?, ?, ?)`,
			doc.ID, l.Rel, l.Target, l.ObservedAt.UTC().Format(timeFmt), string(meta),
		); err != nil {
			return err
		}
	}
	return nil
}

func upsertFTS(tx *sql.Tx, doc *core.Document) error {
	var exists int
	err := tx.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'content_fts'`).Scan(&exists)
	if err != nil || exists == 0 {
		return nil // FTS5 unavailable; the body is not indexed for keyword search.
	}
	if _, err := tx.Exec(`DELETE FROM content_fts WHERE doc_id = ?`, doc.ID); err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO content_fts (doc_id, body) VALUES (?, ?)`, doc.ID, doc.Body)
	return err
}

func recordVersion(tx *sql.Tx, doc *core.Document) error {
	entityID := doc.ID
	if doc.Supersedes != "" {
		entityID = doc.Supersedes
	}
	_, err := tx.Exec(
		`INSERT INTO document_versions (entity_id, doc_id, observed_at, recorded_at) VALUES (?, ?, ?, ?)`,
		entityID, doc.ID, doc.ObservedAt.UTC().Format(timeFmt), time.Now().UTC().Format(timeFmt),
	)
	return err
}

// idRootSuffix matches the author-assigned numeric version suffix on an
// id ("proj-x-001", "proj-x-2") so idRoot("proj-x-001") == idRoot("proj-x-002")
// == "proj-x" — the implicit half of 4.3.2's same-id-root trigger.
var idRootSuffix = regexp.MustCompile(`-\d+$`)

func idRoot(id string) string {
	return idRootSuffix.ReplaceAllString(id, "")
}

// resolveEntityConflicts finds other live (non-superseded) documents
// describing the same logical entity as doc — via an explicit Supersedes
// pointer, or by sharing the same id root (4.3.2) — applies the tie-break,
// and records any field contradictions for audit without blocking
// admission.
func resolveEntityConflicts(tx *sql.Tx, doc *core.Document) error {
	resolved := map[string]bool{doc.ID: true}

	if doc.Supersedes != "" {
		if err := resolveAgainst(tx, doc, doc.Supersedes); err != nil {
			return err
		}
		resolved[doc.Supersedes] = true
	}

	rivals, err := sameIDRootRivals(tx, doc, resolved)
	if err != nil {
		return err
	}
	for _, rivalID := range rivals {
		if err := resolveAgainst(tx, doc, rivalID); err != nil {
			return err
		}
	}
	return nil
}

// sameIDRootRivals returns the ids of other live documents of doc's type
// that share its id root, excluding anything already in exclude.
func sameIDRootRivals(tx *sql.Tx, doc *core.Document, exclude map[string]bool) ([]string, error) {
	rows, err := tx.Query(`SELECT id FROM documents WHERE type = ? AND superseded_by = ''`, doc.Type)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	root := idRoot(doc.ID)
	var rivals []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if exclude[id] || idRoot(id) != root {
			continue
		}
		rivals = append(rivals, id)
	}
	return rivals, rows.Err()
}

// resolveAgainst applies the 4.3.2 tie-break between doc and the prior
// version stored under priorID, and records any field contradictions.
func resolveAgainst(tx *sql.Tx, doc *core.Document, priorID string) error {
	prior, err := loadDocument(tx, priorID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}

	winner, loser := gate.ResolveSupersession(doc, prior)
	now := time.Now().UTC()
	gate.ApplySupersession(winner, loser)

	var supersededAt any
	if loser.SupersededAt != nil {
		supersededAt = loser.SupersededAt.UTC().Format(timeFmt)
	}
	if _, err := tx.Exec(
		`UPDATE documents SET superseded_by = ?, superseded_at = ? WHERE id = ?`,
		loser.SupersededBy, supersededAt, loser.ID,
	); err != nil {
		return err
	}

	for _, c := range gate.DetectFieldContradictions(priorID, doc, prior, now) {
		wv, _ := json.Marshal(c.WinnerVal)
		lv, _ := json.Marshal(c.LoserVal)
		if _, err := tx.Exec(
			`INSERT INTO contradictions (entity_id, winner_id, loser_id, field_name, winner_value, loser_value, detected_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.EntityID, c.WinnerID, c.LoserID, c.Field, string(wv), string(lv), c.DetectedAt.UTC().Format(timeFmt),
		); err != nil {
			return err
		}
	}
	return nil
}

func loadDocument(tx *sql.Tx, id string) (*core.Document, error) {
	row := tx.QueryRow(`SELECT id, type, confidence, observed_at FROM documents WHERE id = ?`, id)
	doc := &core.Document{Fields: map[string]any{}}
	var observedAt string
	if err := row.Scan(&doc.ID, &doc.Type, &doc.Confidence, &observedAt); err != nil {
		return nil, err
	}
	t, _ := time.Parse(timeFmt, observedAt)
	doc.ObservedAt = t
	return doc, nil
}

// Delete removes a document and its derived rows outright (hard
// delete), or tombstones it (soft delete leaves the row, marked via
// superseded_by pointing at itself so CURRENT()/LATEST() exclude it).
func (idx *Index) Delete(id string, hard bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if hard {
		tx, err := idx.conn.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, stmt := range []string{
			`DELETE FROM documents WHERE id = ?`,
			`DELETE FROM field_values WHERE doc_id = ?`,
			`DELETE FROM field_arrays WHERE doc_id = ?`,
			`DELETE FROM links WHERE source_doc = ?`,
		} {
			if _, err := tx.Exec(stmt, id); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM content_fts WHERE doc_id = ?`, id); err != nil {
			// FTS table may not exist; ignore.
			_ = err
		}
		return tx.Commit()
	}

	_, err := idx.conn.Exec(`UPDATE documents SET superseded_by = id WHERE id = ?`, id)
	return err
}

// DeleteByPath removes every document row whose on-disk path matches
// (used by the vault watcher on a file Remove event, before the new
// file at that path, if any, is re-ingested).
func (idx *Index) DeleteByPath(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rows, err := idx.conn.Query(`SELECT id FROM documents WHERE path = ?`, path)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := idx.conn.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}
