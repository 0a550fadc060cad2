package index

import (
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// VectorMatch is one KNN hit, ordered by ascending distance (nearer
// first). Grounded on the teacher's internal/store/search.go
// VectorSearch result shape, trimmed to the fields the MKQL NEAR()
// predicate needs before its own post-filters apply.
type VectorMatch struct {
	DocID    string
	Distance float64
}

// UpsertEmbedding stores or replaces the embedding vector for a
// document and clears its dirty bit (4.5's "mark embeddings dirty" is
// undone here once the Embedder has produced a fresh vector).
func (idx *Index) UpsertEmbedding(docID string, vec []float32) error {
	if !idx.vecEnabled {
		return fmt.Errorf("sqlite-vec unavailable in this build")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	data, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}
	if _, err := idx.conn.Exec(`DELETE FROM vectors WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	if _, err := idx.conn.Exec(`INSERT INTO vectors (doc_id, embedding) VALUES (?, ?)`, docID, data); err != nil {
		return err
	}
	_, err = idx.conn.Exec(`UPDATE documents SET embedding_dirty = 0 WHERE id = ?`, docID)
	return err
}

// DirtyEmbeddings returns the ids of documents whose embedding needs
// (re)computing, for a background or on-demand embedding refresh pass.
func (idx *Index) DirtyEmbeddings(limit int) ([]string, error) {
	rows, err := idx.conn.Query(`SELECT id FROM documents WHERE embedding_dirty = 1 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// VectorSearch performs a KNN search over the `vectors` virtual table,
// compiled by MKQL's NEAR() predicate into this single query plus the
// caller's own post-filters (4.6.3). fetchK over-fetches so the caller
// can apply post-filters (type, temporal predicates) without starving
// the result set, matching the teacher's fetchK = TopK * 5 idiom.
func (idx *Index) VectorSearch(queryVec []float32, topK int) ([]VectorMatch, error) {
	if !idx.vecEnabled {
		return nil, fmt.Errorf("sqlite-vec unavailable: NEAR() queries cannot run in this build")
	}
	if topK <= 0 {
		topK = 10
	}
	fetchK := topK * 5

	data, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	rows, err := idx.conn.Query(`
		SELECT v.doc_id, v.distance
		FROM vectors v
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		data, fetchK,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.DocID, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
		if len(out) >= topK {
			break
		}
	}
	return out, rows.Err()
}
