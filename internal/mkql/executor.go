package mkql

import (
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/index"
	"github.com/viktorbezdek/mkb/internal/schema"
)

// RuntimeError wraps a failure while running an otherwise-valid Plan
// (a storage error, a NEAR() query hitting a build without sqlite-vec,
// and the like) (5: "QueryRuntimeError"/"IndexUnavailable").
type RuntimeError struct {
	Kind string // "runtime" or "index_unavailable"
	Err  error
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *RuntimeError) Unwrap() error { return e.Err }

// Row is one result: the underlying document plus its computed-field
// values, keyed by the ComputedFields vocabulary.
type Row struct {
	Doc      *core.Document
	Computed map[string]float64
}

// timeFmt matches internal/index/ingest.go's stored format so string
// comparisons/parses round-trip exactly.
const timeFmt = time.RFC3339

// Execute runs plan against idx, embedding any NEAR() query text with
// embedder, resolving any LINK hops via idx.TraverseLinks, applying
// whatever predicates could not be pushed into SQL, computing
// CONFIDENCE/EFF_CONFIDENCE/FRESHNESS/RELEVANCE/AGE, and finally
// applying the statement's ORDER BY/LIMIT/OFFSET over the fully
// resolved set (4.7.1).
func Execute(idx *index.Index, embedder Embedder, reg *schema.Registry, plan *Plan, now time.Time) ([]Row, error) {
	rows, err := idx.Conn().Query(plan.SQL, plan.Params...)
	if err != nil {
		return nil, &RuntimeError{Kind: "runtime", Err: fmt.Errorf("plan query: %w", err)}
	}
	defer rows.Close()

	candidates, err := scanDocuments(rows)
	if err != nil {
		return nil, &RuntimeError{Kind: "runtime", Err: err}
	}

	var distances map[string]float64
	if plan.VectorStep != nil {
		distances, err = runVectorStep(idx, embedder, plan.VectorStep)
		if err != nil {
			return nil, err
		}
		candidates = filterByVector(candidates, distances)
	}

	for _, step := range plan.LinkSteps {
		candidates, err = filterByLink(idx, candidates, step)
		if err != nil {
			return nil, &RuntimeError{Kind: "runtime", Err: err}
		}
	}

	out := make([]Row, 0, len(candidates))
	for _, doc := range candidates {
		row := Row{Doc: doc, Computed: computeFields(doc, reg, distances, now)}
		if passesPostFilters(doc, row.Computed, plan.PostFilters) {
			out = append(out, row)
		}
	}

	sortRows(out, plan.OrderBy, plan.VectorStep != nil)

	return paginate(out, plan.Limit, plan.Offset), nil
}

func scanDocuments(rows *sql.Rows) ([]*core.Document, error) {
	var docs []*core.Document
	for rows.Next() {
		var d core.Document
		var observedAt, validUntil, path string
		var occurredAt, supersedes, supersededBy sql.NullString
		if err := rows.Scan(&d.ID, &d.Type, &path, &d.Confidence, &observedAt, &validUntil,
			&d.TemporalPrecision, &occurredAt, &supersedes, &supersededBy, &d.Body); err != nil {
			return nil, err
		}
		t, err := time.Parse(timeFmt, observedAt)
		if err != nil {
			return nil, fmt.Errorf("parse observed_at for %s: %w", d.ID, err)
		}
		d.ObservedAt = t
		if t2, err := time.Parse(timeFmt, validUntil); err == nil {
			d.ValidUntil = t2
		}
		if occurredAt.Valid {
			if t3, err := time.Parse(timeFmt, occurredAt.String); err == nil {
				d.OccurredAt = &t3
			}
		}
		d.Supersedes = supersedes.String
		d.SupersededBy = supersededBy.String
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

func runVectorStep(idx *index.Index, embedder Embedder, step *VectorStep) (map[string]float64, error) {
	if embedder == nil {
		return nil, &RuntimeError{Kind: "index_unavailable", Err: fmt.Errorf("NEAR() requires an embedder")}
	}
	vec, err := embedder.Embed(step.QueryText)
	if err != nil {
		return nil, &RuntimeError{Kind: "runtime", Err: fmt.Errorf("embed query: %w", err)}
	}
	matches, err := idx.VectorSearch(vec, step.TopK)
	if err != nil {
		return nil, &RuntimeError{Kind: "index_unavailable", Err: err}
	}
	out := make(map[string]float64, len(matches))
	for _, m := range matches {
		if step.Threshold > 0 && m.Distance > step.Threshold {
			continue
		}
		out[m.DocID] = m.Distance
	}
	return out, nil
}

func filterByVector(docs []*core.Document, distances map[string]float64) []*core.Document {
	out := docs[:0:0]
	for _, d := range docs {
		if _, ok := distances[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

func filterByLink(idx *index.Index, docs []*core.Document, step LinkStep) ([]*core.Document, error) {
	direction := index.DirectionForward
	if step.Reverse {
		direction = index.DirectionReverse
	}
	out := docs[:0:0]
	for _, d := range docs {
		hops, err := idx.TraverseLinks(d.ID, step.Rel, direction, 1)
		if err != nil {
			return nil, err
		}
		if step.TargetType == "" {
			if len(hops) > 0 {
				out = append(out, d)
			}
			continue
		}
		for _, h := range hops {
			var targetType string
			if err := idx.Conn().QueryRow(`SELECT type FROM documents WHERE id = ?`, h.DocID).Scan(&targetType); err != nil {
				continue
			}
			if targetType == step.TargetType {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// computeFields evaluates the read-time computed fields from 4.6.1:
// CONFIDENCE is the stored base value; EFF_CONFIDENCE applies the decay
// formula; FRESHNESS expresses remaining validity as a 0..1 fraction of
// the observed_at..valid_until window; AGE is the elapsed time in days;
// RELEVANCE is the vector distance turned into a 0..1 similarity score
// (1.0 when no NEAR() step ran).
func computeFields(doc *core.Document, reg *schema.Registry, distances map[string]float64, now time.Time) map[string]float64 {
	profile := gate.ResolveProfile(reg, doc.Type)
	halfLife := profile.HalfLife.Duration
	effConf := gate.EffectiveConfidence(doc.Confidence, doc.ObservedAt, now, halfLife)

	freshness := 1.0
	if !doc.ValidUntil.IsZero() && doc.ValidUntil.After(doc.ObservedAt) {
		window := doc.ValidUntil.Sub(doc.ObservedAt)
		elapsed := now.Sub(doc.ObservedAt)
		freshness = 1.0 - float64(elapsed)/float64(window)
		if freshness < 0 {
			freshness = 0
		}
		if freshness > 1 {
			freshness = 1
		}
	}

	relevance := 1.0
	if distances != nil {
		if dist, ok := distances[doc.ID]; ok {
			relevance = 1.0 / (1.0 + dist)
		} else {
			relevance = 0
		}
	}

	ageDays := now.Sub(doc.ObservedAt).Hours() / 24

	return map[string]float64{
		"CONFIDENCE":     doc.Confidence,
		"EFF_CONFIDENCE": effConf,
		"FRESHNESS":      freshness,
		"RELEVANCE":      relevance,
		"AGE":            ageDays,
	}
}

// passesPostFilters evaluates whatever predicates the compiler could
// not push into SQL: computed-field comparisons, MATCHES (Go regexp),
// STALE (effective confidence against the decayed threshold), and
// NEAR/LINKED markers that are already enforced structurally and so
// always pass here.
func passesPostFilters(doc *core.Document, computed map[string]float64, filters []Expr) bool {
	for _, f := range filters {
		if !evalPostFilter(doc, computed, f) {
			return false
		}
	}
	return true
}

func evalPostFilter(doc *core.Document, computed map[string]float64, e Expr) bool {
	switch v := e.(type) {
	case *BinaryExpr:
		if v.Op == "AND" {
			return evalPostFilter(doc, computed, v.LHS) && evalPostFilter(doc, computed, v.RHS)
		}
		if v.Op == "OR" {
			return evalPostFilter(doc, computed, v.LHS) || evalPostFilter(doc, computed, v.RHS)
		}
		return evalComparison(doc, computed, v)
	case *NotExpr:
		return !evalPostFilter(doc, computed, v.Expr)
	case *FuncPredicate:
		switch v.Name {
		case "NEAR", "LINKED":
			return true // enforced structurally upstream
		case "MATCHES":
			return evalMatches(doc, v)
		case "STALE":
			return computed["EFF_CONFIDENCE"] < 0.3
		}
		return true
	default:
		return true
	}
}

func evalComparison(doc *core.Document, computed map[string]float64, b *BinaryExpr) bool {
	fr, ok := b.LHS.(*FieldRef)
	if !ok {
		return true
	}
	lit, ok := b.RHS.(*Literal)
	if !ok {
		return true
	}
	name := strings.ToUpper(fr.Path[0])
	val, ok := computed[name]
	if !ok {
		return true
	}
	threshold, err := parseComparisonValue(lit)
	if err != nil {
		return true
	}
	switch b.Op {
	case "<":
		return val < threshold
	case "<=":
		return val <= threshold
	case ">":
		return val > threshold
	case ">=":
		return val >= threshold
	case "=", "==":
		return val == threshold
	case "!=":
		return val != threshold
	default:
		return true
	}
}

// parseComparisonValue reads a Literal as a float, treating duration
// literals (used against AGE, e.g. `AGE() < 7d`) as a day count.
func parseComparisonValue(lit *Literal) (float64, error) {
	if lit.Kind == TokDuration {
		d, err := schema.ParseDuration(lit.Value)
		if err != nil {
			return 0, err
		}
		return d.Duration.Hours() / 24, nil
	}
	return strconv.ParseFloat(lit.Value, 64)
}

func evalMatches(doc *core.Document, f *FuncPredicate) bool {
	if len(f.Args) != 2 {
		return true
	}
	fr, ok := f.Args[0].(*FieldRef)
	if !ok {
		return true
	}
	lit, ok := f.Args[1].(*Literal)
	if !ok {
		return true
	}
	re, err := regexp.Compile(lit.Value)
	if err != nil {
		return false
	}
	value := fieldValueAsString(doc, fr.Path[0])
	return re.MatchString(value)
}

func fieldValueAsString(doc *core.Document, field string) string {
	switch strings.ToLower(field) {
	case "id":
		return doc.ID
	case "type":
		return doc.Type
	case "body":
		return doc.Body
	default:
		if v, ok := doc.Fields[field]; ok {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}
}

// sortRows re-sorts by a computed field's actual value when the
// statement ordered by one (the SQL stage only had a stored proxy
// column to sort on); otherwise SQL's own ordering, and the vector
// step's distance ordering, are left intact.
func sortRows(rows []Row, order []OrderTerm, hasVectorStep bool) {
	if len(order) == 0 {
		if hasVectorStep {
			sort.SliceStable(rows, func(i, j int) bool {
				return rows[i].Computed["RELEVANCE"] > rows[j].Computed["RELEVANCE"]
			})
		}
		return
	}
	needsResort := false
	for _, t := range order {
		if t.Field.Computed != "" {
			needsResort = true
		}
	}
	if !needsResort {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, t := range order {
			if t.Field.Computed == "" {
				continue
			}
			vi, vj := rows[i].Computed[t.Field.Computed], rows[j].Computed[t.Field.Computed]
			if vi == vj {
				continue
			}
			if t.Descending {
				return vi > vj
			}
			return vi < vj
		}
		return false
	})
}

func paginate(rows []Row, limit, offset int) []Row {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
