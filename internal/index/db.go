// Package index is the Derived Index: a SQLite-backed projection of the
// vault (EAV + FTS5 + vectors) that is strictly rebuildable by a full
// scan (spec.md 4.5). Grounded on the teacher's internal/store/db.go
// connection and versioned-migration pattern.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Index wraps a SQLite connection plus a write mutex: a single writer,
// serialisable transactions, concurrent reads (4.6 concurrency note).
type Index struct {
	conn        *sql.DB
	mu          sync.Mutex
	vecEnabled  bool
	embeddingDim int
}

// Open opens or creates the index database at path.
func Open(path string, embeddingDim int) (*Index, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	return open(conn, embeddingDim)
}

// OpenMemory opens an in-memory index, for tests and `doctor`-style
// throwaway sessions.
func OpenMemory(embeddingDim int) (*Index, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	return open(conn, embeddingDim)
}

func open(conn *sql.DB, embeddingDim int) (*Index, error) {
	idx := &Index{conn: conn, embeddingDim: embeddingDim}

	var vecVersion string
	if err := conn.QueryRow("SELECT vec_version()").Scan(&vecVersion); err == nil {
		idx.vecEnabled = true
	}

	if err := idx.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

// Close closes the underlying connection.
func (idx *Index) Close() error { return idx.conn.Close() }

// Conn exposes the underlying *sql.DB for the MKQL executor's
// parameterised queries.
func (idx *Index) Conn() *sql.DB { return idx.conn }

func (idx *Index) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// documents: one row per admitted document version (current or superseded).
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			path TEXT NOT NULL,
			confidence REAL NOT NULL,
			observed_at TEXT NOT NULL,
			valid_until TEXT NOT NULL,
			temporal_precision TEXT NOT NULL,
			occurred_at TEXT,
			created_at TEXT NOT NULL,
			modified_at TEXT NOT NULL,
			source TEXT DEFAULT '',
			source_hash TEXT DEFAULT '',
			provenance TEXT DEFAULT '',
			supersedes TEXT DEFAULT '',
			superseded_by TEXT DEFAULT '',
			superseded_at TEXT,
			body TEXT NOT NULL DEFAULT '',
			embedding_dirty INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_modified_at ON documents(modified_at)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_observed_at ON documents(observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_valid_until ON documents(valid_until)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_temporal_precision ON documents(temporal_precision)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_superseded_by ON documents(superseded_by)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_current ON documents(type, valid_until) WHERE superseded_by = ''`,
		`CREATE INDEX IF NOT EXISTS idx_documents_timeline ON documents(type, observed_at DESC)`,

		// field_values: EAV for scalar fields, per-type field_name indexed by (field_name, value).
		`CREATE TABLE IF NOT EXISTS field_values (
			doc_id TEXT NOT NULL REFERENCES documents(id),
			field_name TEXT NOT NULL,
			field_type TEXT NOT NULL,
			value_text TEXT,
			value_num REAL,
			PRIMARY KEY (doc_id, field_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_field_values_name_text ON field_values(field_name, value_text)`,
		`CREATE INDEX IF NOT EXISTS idx_field_values_name_num ON field_values(field_name, value_num)`,

		// field_arrays: EAV for string[]/ref[] fields, one row per element.
		`CREATE TABLE IF NOT EXISTS field_arrays (
			doc_id TEXT NOT NULL REFERENCES documents(id),
			field_name TEXT NOT NULL,
			position INTEGER NOT NULL,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_field_arrays_name_value ON field_arrays(field_name, value)`,
		`CREATE INDEX IF NOT EXISTS idx_field_arrays_doc ON field_arrays(doc_id)`,

		// links: directed relation (source_doc, rel, target_doc, observed_at, metadata).
		`CREATE TABLE IF NOT EXISTS links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_doc TEXT NOT NULL,
			rel TEXT NOT NULL,
			target_doc TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			metadata TEXT DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_doc, rel)`,
		`CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_doc, rel)`,

		// document_versions: append-only supersession chain audit trail.
		`CREATE TABLE IF NOT EXISTS document_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_versions_entity ON document_versions(entity_id, observed_at DESC)`,

		// contradictions: detected conflicts pending review (4.3.2).
		`CREATE TABLE IF NOT EXISTS contradictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL,
			winner_id TEXT NOT NULL,
			loser_id TEXT NOT NULL,
			field_name TEXT NOT NULL,
			winner_value TEXT,
			loser_value TEXT,
			detected_at TEXT NOT NULL,
			reviewed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contradictions_entity ON contradictions(entity_id)`,
	}

	for _, s := range stmts {
		if _, err := idx.conn.Exec(s); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, s)
		}
	}

	currentVersion := idx.schemaVersion()
	versioned := []struct {
		version int
		fn      func() error
	}{
		{1, idx.migrateV1FTS},
		{2, idx.migrateV2Vectors},
	}
	for _, m := range versioned {
		if currentVersion < m.version {
			if err := m.fn(); err != nil {
				return fmt.Errorf("migration v%d: %w", m.version, err)
			}
			if err := idx.setMeta("schema_version", strconv.Itoa(m.version)); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
		}
	}
	return nil
}

// migrateV1FTS creates the content_fts virtual table as a contentless
// FTS5 table (content=''); Ingest writes each document's body into it.
// FTS5 may be unavailable on some SQLite builds; that failure is
// non-fatal here, but BODY CONTAINS queries, which always read
// content_fts, then fail (mirrors the teacher's migrateV2 tolerance of a
// missing FTS5 module).
func (idx *Index) migrateV1FTS() error {
	_, err := idx.conn.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS content_fts USING fts5(
		doc_id UNINDEXED,
		body,
		content=''
	)`)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [WARN] FTS5 unavailable, BODY CONTAINS queries will fail: %v\n", err)
		return nil
	}
	return nil
}

// migrateV2Vectors creates the vec0 virtual table sized to the
// configured embedding dimension, when sqlite-vec is loaded.
func (idx *Index) migrateV2Vectors() error {
	if !idx.vecEnabled {
		fmt.Fprintf(os.Stderr, "  [WARN] sqlite-vec unavailable, NEAR() queries will be rejected\n")
		return nil
	}
	dim := idx.embeddingDim
	if dim <= 0 {
		dim = 768
	}
	_, err := idx.conn.Exec(fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(
		doc_id TEXT PRIMARY KEY,
		embedding float[%d]
	)`, dim))
	return err
}

func (idx *Index) schemaVersion() int {
	var v string
	err := idx.conn.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&v)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

func (idx *Index) setMeta(key, value string) error {
	_, err := idx.conn.Exec(
		`INSERT INTO schema_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// IntegrityCheck runs SQLite's built-in integrity_check pragma, used by
// the CLI `doctor` subcommand.
func (idx *Index) IntegrityCheck() error {
	var result string
	if err := idx.conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
