package index

import (
	"fmt"
	"strings"
)

// LinkDirection selects which edge endpoint the traversal follows.
type LinkDirection string

const (
	DirectionForward LinkDirection = "forward"
	DirectionReverse LinkDirection = "reverse"
)

// TraversalStep is one hop discovered by TraverseLinks, with the
// comma-joined id path used for cycle detection preserved for callers
// that want to reconstruct the full chain.
type TraversalStep struct {
	DocID   string
	Rel     string
	Depth   int
	PathIDs string
}

// maxLinkDepth bounds TraverseLinks: cycles are bounded by this
// explicit depth cap rather than relying on cycle detection alone
// (spec.md Design Notes).
const maxLinkDepth = 10

// TraverseLinks walks the links table from startID via rel (empty
// string matches any relation) up to maxDepth hops (clamped to
// maxLinkDepth), in the given direction, with one recursive CTE. MKQL's
// executor calls it with maxDepth 1 for each LINKED() predicate; LINK
// clauses are parsed and type-checked but not compiled into a
// traversal. Grounded directly on the
// teacher's internal/graph/graph.go QueryGraph: same base-case/recursive-step
// shape, same comma-joined path-string cycle detection via instr(), same
// direction-keyed SQL-fragment substitution — adapted from a fixed
// graph_edges/graph_nodes schema to this module's links table.
func (idx *Index) TraverseLinks(startID, rel string, direction LinkDirection, maxDepth int) ([]TraversalStep, error) {
	if direction != DirectionForward && direction != DirectionReverse {
		return nil, fmt.Errorf("unsupported traversal direction %q", direction)
	}
	if maxDepth <= 0 || maxDepth > maxLinkDepth {
		maxDepth = maxLinkDepth
	}

	startCol := map[LinkDirection]string{DirectionForward: "source_doc", DirectionReverse: "target_doc"}[direction]
	nextCol := map[LinkDirection]string{DirectionForward: "target_doc", DirectionReverse: "source_doc"}[direction]
	joinCol := map[LinkDirection]string{DirectionForward: "source_doc", DirectionReverse: "target_doc"}[direction]

	query := `
	WITH RECURSIVE traversal(doc_id, rel, depth, path_ids) AS (
		SELECT ` + nextCol + `, rel, 1, cast(` + startCol + ` as text) || ',' || cast(` + nextCol + ` as text)
		FROM links
		WHERE ` + startCol + ` = ?
		  AND (? = '' OR rel = ?)

		UNION ALL

		SELECT e.` + nextCol + `, e.rel, t.depth + 1,
			t.path_ids || ',' || cast(e.` + nextCol + ` as text)
		FROM links e
		JOIN traversal t ON t.doc_id = e.` + joinCol + `
		WHERE t.depth < ?
		  AND (? = '' OR e.rel = ?)
		  AND instr(',' || t.path_ids || ',', ',' || cast(e.` + nextCol + ` as text) || ',') = 0
	)
	SELECT doc_id, rel, depth, path_ids FROM traversal
	LIMIT 1000`

	rows, err := idx.conn.Query(query, startID, rel, rel, maxDepth, rel, rel)
	if err != nil {
		return nil, fmt.Errorf("link traversal: %w", err)
	}
	defer rows.Close()

	var steps []TraversalStep
	for rows.Next() {
		var s TraversalStep
		if err := rows.Scan(&s.DocID, &s.Rel, &s.Depth, &s.PathIDs); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// ParsePathIDs splits a comma-joined path string back into its id
// sequence, for assembling a human-readable traversal chain.
func ParsePathIDs(pathIDs string) []string {
	parts := strings.Split(pathIDs, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
