package mkql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/viktorbezdek/mkb/internal/schema"
)

// CompileError wraps a failure to turn a type-checked AST into a Plan
// (4.6.3/5: "QueryCompileError").
type CompileError struct{ Msg string }

func (e *CompileError) Error() string { return e.Msg }

// maxIntermediateRows guardrails the candidate set SQL hands to the
// executor's vector/link/post-filter stages before Limit/Offset apply,
// so a poorly-selective WHERE clause cannot balloon into an unbounded
// in-memory scan.
const maxIntermediateRows = 5000

// compileCtx threads shared state through the recursive compileExpr
// walk: the leftover (non-SQL-pushable) conjuncts, and whether a NEAR()
// or LINKED() predicate was seen, both of which steer the planner.
type compileCtx struct {
	reg        *schema.Registry
	params     []any
	vectorStep *VectorStep
	linkSteps  []LinkStep
	postFilter []Expr
}

// Compile type-checks stmt against reg and produces a Plan. Compile
// does not execute anything; internal/mkql/executor.go consumes the
// Plan against an opened Index.
func Compile(stmt *SelectStmt, reg *schema.Registry) (*Plan, error) {
	if err := TypeCheck(stmt, reg); err != nil {
		return nil, &CompileError{Msg: err.Error()}
	}

	ctx := &compileCtx{reg: reg}

	var whereSQL string
	if stmt.Where != nil {
		conjuncts := collectAnd(stmt.Where)
		var sqlParts []string
		for _, c := range conjuncts {
			frag, ok := ctx.compileTerm(c)
			if ok {
				sqlParts = append(sqlParts, frag)
			} else {
				ctx.postFilter = append(ctx.postFilter, c)
			}
		}
		whereSQL = strings.Join(sqlParts, " AND ")
	}

	typeSQL, typeParams := compileTypeFilter(stmt)

	clauses := []string{}
	if typeSQL != "" {
		clauses = append(clauses, typeSQL)
	}
	if whereSQL != "" {
		clauses = append(clauses, whereSQL)
	}
	if !stmt.History {
		// Implicit LATEST() default (4.6.3 Defaults): unless HISTORY
		// appears anywhere, only the current representative of each
		// entity is visible.
		clauses = append(clauses, "documents.superseded_by = ''")
	}

	sql := "SELECT documents.id, documents.type, documents.path, documents.confidence, " +
		"documents.observed_at, documents.valid_until, documents.temporal_precision, " +
		"documents.occurred_at, documents.supersedes, documents.superseded_by, documents.body " +
		"FROM documents"
	if len(clauses) > 0 {
		sql += " WHERE " + strings.Join(clauses, " AND ")
	}
	sql += " ORDER BY " + compileOrderBy(stmt.OrderBy)
	// Limit/Offset are applied by the executor after post-filters,
	// vector re-ranking, and link-step joins narrow the candidate set —
	// pushing them into SQL here would cut the set down before those
	// later stages run. maxIntermediateRows is a guardrail against an
	// unbounded scan feeding an expensive post-filter/vector pass.
	sql += fmt.Sprintf(" LIMIT %d", maxIntermediateRows)

	plan := &Plan{
		SQL:         sql,
		Params:      ctx.allParams(typeParams),
		VectorStep:  ctx.vectorStep,
		LinkSteps:   ctx.linkSteps,
		PostFilters: ctx.postFilter,
		Fields:      stmt.Fields,
		OrderBy:     stmt.OrderBy,
		Limit:       stmt.Limit,
		Offset:      stmt.Offset,
		Formatting:  stmt.Context,
	}
	plan.Strategy = choosePlanStrategy(plan, stmt)
	return plan, nil
}

// allParams re-threads the type filter's params ahead of whatever the
// WHERE compilation appended, matching the SQL text's left-to-right
// placeholder order.
func (ctx *compileCtx) allParams(typeParams []any) []any {
	out := make([]any, 0, len(typeParams)+len(ctx.params))
	out = append(out, typeParams...)
	out = append(out, ctx.params...)
	return out
}

func compileTypeFilter(stmt *SelectStmt) (string, []any) {
	if stmt.Wildcard || len(stmt.Types) == 0 {
		return "", nil
	}
	if len(stmt.Types) == 1 {
		return "documents.type = ?", []any{stmt.Types[0]}
	}
	placeholders := make([]string, len(stmt.Types))
	params := make([]any, len(stmt.Types))
	for i, t := range stmt.Types {
		placeholders[i] = "?"
		params[i] = t
	}
	return "documents.type IN (" + strings.Join(placeholders, ",") + ")", params
}

func compileOrderBy(terms []OrderTerm) string {
	if len(terms) == 0 {
		return "documents.observed_at DESC"
	}
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		col := orderColumn(t.Field)
		if col == "" {
			continue
		}
		dir := "ASC"
		if t.Descending {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir)
	}
	if len(parts) == 0 {
		return "documents.observed_at DESC"
	}
	return strings.Join(parts, ", ")
}

// orderColumn maps an ORDER BY field to a sortable SQL expression.
// Computed fields whose value only exists after post-processing
// (RELEVANCE, EFF_CONFIDENCE, FRESHNESS) fall back to their nearest
// stored proxy so the SQL stage still produces a reasonable candidate
// ordering; the executor re-sorts by the true computed value afterward
// when one of those appears.
func orderColumn(f FieldExpr) string {
	if f.Computed != "" {
		switch f.Computed {
		case "CONFIDENCE", "EFF_CONFIDENCE":
			return "documents.confidence"
		case "FRESHNESS", "AGE":
			return "documents.observed_at"
		case "RELEVANCE":
			return "documents.observed_at"
		}
		return ""
	}
	if len(f.Path) == 1 && intrinsicFields[strings.ToLower(f.Path[0])] {
		return "documents." + f.Path[0]
	}
	return ""
}

// collectAnd flattens a right-leaning chain of AND nodes into its leaf
// conjuncts; OR/NOT/leaf predicates are returned as single-element
// slices so compile always sees a flat top-level conjunction.
func collectAnd(e Expr) []Expr {
	if b, ok := e.(*BinaryExpr); ok && b.Op == "AND" {
		return append(collectAnd(b.LHS), collectAnd(b.RHS)...)
	}
	return []Expr{e}
}

// compileTerm compiles one top-level conjunct into a SQL fragment when
// possible, appending any parameters to ctx.params. Returns ok=false
// when the term cannot be pushed into SQL (NEAR, LINKED, MATCHES, and
// computed-field comparisons), in which case the caller adds it to the
// post-filter list for the executor to evaluate per-row.
func (ctx *compileCtx) compileTerm(e Expr) (string, bool) {
	switch v := e.(type) {
	case *BinaryExpr:
		return ctx.compileBinary(v)
	case *NotExpr:
		frag, ok := ctx.compileTerm(v.Expr)
		if !ok {
			return "", false
		}
		return "NOT (" + frag + ")", true
	case *InExpr:
		return ctx.compileIn(v)
	case *IsNullExpr:
		return ctx.compileIsNull(v)
	case *FuncPredicate:
		return ctx.compileFunc(v)
	default:
		return "", false
	}
}

func (ctx *compileCtx) compileBinary(b *BinaryExpr) (string, bool) {
	if b.Op == "AND" || b.Op == "OR" {
		lhs, lok := ctx.compileTerm(b.LHS)
		rhs, rok := ctx.compileTerm(b.RHS)
		if !lok || !rok {
			return "", false
		}
		return "(" + lhs + " " + b.Op + " " + rhs + ")", true
	}
	fr, ok := b.LHS.(*FieldRef)
	if !ok {
		return "", false
	}
	if ComputedFields[strings.ToUpper(fr.Path[0])] {
		return "", false // computed fields are post-filtered
	}
	lit, ok := b.RHS.(*Literal)
	if !ok {
		return "", false
	}
	col, params, ok := fieldExpression(fr, lit.Kind == TokNumber)
	if !ok {
		return "", false
	}
	ctx.params = append(ctx.params, params...)
	ctx.params = append(ctx.params, literalParam(lit))
	return col + " " + sqlOp(b.Op) + " ?", true
}

func sqlOp(op string) string {
	if op == "!=" {
		return "<>"
	}
	return op
}

// fieldExpression maps a field reference to the SQL expression that
// reads it: intrinsic documents columns read directly, everything else
// goes through a correlated EAV subquery against field_values, choosing
// the numeric or text projection to match the literal on the other side
// of the comparison.
func fieldExpression(fr *FieldRef, numeric bool) (string, []any, bool) {
	name := fr.Path[0]
	if intrinsicFields[strings.ToLower(name)] {
		return "documents." + strings.ToLower(name), nil, true
	}
	col := "value_text"
	if numeric {
		col = "value_num"
	}
	sub := "(SELECT " + col + " FROM field_values WHERE doc_id = documents.id AND field_name = ?)"
	return sub, []any{name}, true
}

func literalParam(lit *Literal) any {
	switch lit.Kind {
	case TokNumber:
		if n, err := strconv.ParseFloat(lit.Value, 64); err == nil {
			return n
		}
		return lit.Value
	default:
		return lit.Value
	}
}

func (ctx *compileCtx) compileIn(v *InExpr) (string, bool) {
	numeric := len(v.Values) > 0 && v.Values[0].Kind == TokNumber
	col, params, ok := fieldExpression(&v.Field, numeric)
	if !ok {
		return "", false
	}
	ctx.params = append(ctx.params, params...)
	placeholders := make([]string, len(v.Values))
	for i, lit := range v.Values {
		placeholders[i] = "?"
		ctx.params = append(ctx.params, literalParam(&lit))
	}
	return col + " IN (" + strings.Join(placeholders, ",") + ")", true
}

func (ctx *compileCtx) compileIsNull(v *IsNullExpr) (string, bool) {
	col, params, ok := fieldExpression(&v.Field, false)
	if !ok {
		return "", false
	}
	ctx.params = append(ctx.params, params...)
	if v.Not {
		return col + " IS NOT NULL", true
	}
	return col + " IS NULL", true
}

// compileFunc implements the temporal-predicate compilation table
// (4.6.3): FRESH/EXPIRED/CURRENT/LATEST/IMPLICIT/HISTORY/DURING/OVERLAPS/
// AS_OF compile to SQL over the indexed temporal columns;
// CONTAINS/BODY_CONTAINS compile to an EAV/FTS5 match; NEAR/LINKED/
// MATCHES/STALE cannot be expressed as a single boolean SQL fragment and
// are handled by the planner (vector step, link step) or the executor's
// post-filter pass (STALE needs the per-type half-life profile to
// compute effective confidence).
func (ctx *compileCtx) compileFunc(f *FuncPredicate) (string, bool) {
	switch f.Name {
	case "CURRENT":
		return "(documents.superseded_by = '' AND documents.valid_until >= strftime('%Y-%m-%dT%H:%M:%fZ','now'))", true
	case "LATEST":
		return "documents.superseded_by = ''", true
	case "EXPIRED":
		return "documents.valid_until < strftime('%Y-%m-%dT%H:%M:%fZ','now')", true
	case "FRESH":
		if len(f.Args) != 1 {
			return "", false
		}
		raw, ok := litText(f.Args[0])
		if !ok {
			return "", false
		}
		dur, err := schema.ParseDuration(raw)
		if err != nil {
			return "", false
		}
		ctx.params = append(ctx.params, fmt.Sprintf("-%.6f seconds", dur.Seconds()))
		return "documents.observed_at >= strftime('%Y-%m-%dT%H:%M:%fZ','now',?)", true
	case "STALE":
		// Needs the type's half-life profile to compute effective confidence
		// (4.6.1), so it cannot be expressed as a single SQL fragment here;
		// the executor's post-filter pass evaluates it against EFF_CONFIDENCE.
		return "", false
	case "IMPLICIT":
		return "documents.provenance = 'implicit'", true
	case "HISTORY":
		return "1=1", true // presence alone disables the implicit LATEST() default
	case "DURING":
		if len(f.Args) != 2 {
			return "", false
		}
		lo, lok := litText(f.Args[0])
		hi, hok := litText(f.Args[1])
		if !lok || !hok {
			return "", false
		}
		ctx.params = append(ctx.params, lo, hi)
		return "(documents.observed_at >= ? AND documents.observed_at <= ?)", true
	case "OVERLAPS":
		if len(f.Args) != 2 {
			return "", false
		}
		lo, lok := litText(f.Args[0])
		hi, hok := litText(f.Args[1])
		if !lok || !hok {
			return "", false
		}
		ctx.params = append(ctx.params, hi, lo)
		return "(documents.observed_at <= ? AND documents.valid_until >= ?)", true
	case "AS_OF":
		if len(f.Args) != 1 {
			return "", false
		}
		ts, ok := litText(f.Args[0])
		if !ok {
			return "", false
		}
		ctx.params = append(ctx.params, ts, ts)
		return "(documents.observed_at <= ? AND documents.valid_until > ?)", true
	case "CONTAINS":
		if len(f.Args) != 2 {
			return "", false
		}
		fr, ok := f.Args[0].(*FieldRef)
		if !ok {
			return "", false
		}
		val, ok := litText(f.Args[1])
		if !ok {
			return "", false
		}
		ctx.params = append(ctx.params, fr.Path[0], val)
		return "EXISTS (SELECT 1 FROM field_arrays WHERE doc_id = documents.id AND field_name = ? AND value = ?)", true
	case "BODY_CONTAINS":
		if len(f.Args) != 1 {
			return "", false
		}
		val, ok := litText(f.Args[0])
		if !ok {
			return "", false
		}
		ctx.params = append(ctx.params, val)
		return "documents.id IN (SELECT doc_id FROM content_fts WHERE content_fts MATCH ?)", true
	case "NEAR":
		if len(f.Args) < 1 {
			return "", false
		}
		text, ok := litText(f.Args[0])
		if !ok {
			return "", false
		}
		topK := 10
		if len(f.Args) >= 2 {
			if n, ok := litText(f.Args[1]); ok {
				if parsed, err := strconv.Atoi(n); err == nil {
					topK = parsed
				}
			}
		}
		ctx.vectorStep = &VectorStep{QueryText: text, TopK: topK}
		return "", false
	case "LINKED":
		rel := ""
		targetType := ""
		if len(f.Args) >= 1 {
			if t, ok := litText(f.Args[0]); ok {
				rel = t
			}
		}
		if len(f.Args) >= 2 {
			if t, ok := litText(f.Args[1]); ok {
				targetType = t
			}
		}
		ctx.linkSteps = append(ctx.linkSteps, LinkStep{Rel: rel, TargetType: targetType})
		return "", false
	case "MATCHES":
		return "", false // regex match, evaluated Go-side in the post-filter pass
	default:
		return "", false
	}
}

func litText(e Expr) (string, bool) {
	lit, ok := e.(*Literal)
	if !ok {
		return "", false
	}
	return lit.Value, true
}

// choosePlanStrategy applies the cost-based heuristics from 4.6.4: a
// NEAR() predicate anchors on the vector index; BODY CONTAINS without a
// NEAR() anchors on FTS5; an equality/range predicate on an indexed
// field anchors on that field's btree/hash index; absent any of those,
// the plan is a full scan guarded by LIMIT.
func choosePlanStrategy(plan *Plan, stmt *SelectStmt) PlanStrategy {
	if plan.VectorStep != nil {
		return StrategyVector
	}
	if strings.Contains(plan.SQL, "content_fts") {
		return StrategyFTS
	}
	if strings.Contains(plan.SQL, "field_values") || strings.Contains(plan.SQL, "documents.type =") ||
		strings.Contains(plan.SQL, "documents.type IN") {
		return StrategyFieldIndex
	}
	return StrategyFullScan
}
