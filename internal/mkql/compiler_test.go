package mkql

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/viktorbezdek/mkb/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "project.yaml"), []byte(`
name: project
fields:
  status:
    type: enum
    enum_values: [active, done]
  priority:
    type: integer
decay:
  half_life: 14d
  hard_expiry: 60d
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "signal.yaml"), []byte(`
name: signal
fields:
  summary:
    type: string
`), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := schema.LoadSchemas(dir)
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	return reg
}

func TestCompileFieldPredicate(t *testing.T) {
	reg := testRegistry(t)
	stmt, err := Parse(`SELECT id FROM project WHERE status = 'active' AND priority > 1`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plan, err := Compile(stmt, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(plan.SQL, "field_values") {
		t.Errorf("expected an EAV subquery in SQL, got %s", plan.SQL)
	}
	if plan.Strategy != StrategyFieldIndex {
		t.Errorf("Strategy = %v, want field_index", plan.Strategy)
	}
	if len(plan.Params) < 3 {
		t.Errorf("Params = %v, want at least type + 2 field predicates", plan.Params)
	}
}

func TestCompileUnknownFieldRejected(t *testing.T) {
	reg := testRegistry(t)
	stmt, err := Parse(`SELECT id FROM project WHERE nonexistent_field = 'x'`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Compile(stmt, reg); err == nil {
		t.Fatal("expected a compile error for an unknown field")
	}
}

func TestCompileNearProducesVectorStep(t *testing.T) {
	reg := testRegistry(t)
	stmt, err := Parse(`SELECT id FROM signal WHERE NEAR('database outage', 5)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plan, err := Compile(stmt, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if plan.VectorStep == nil || plan.VectorStep.QueryText != "database outage" || plan.VectorStep.TopK != 5 {
		t.Fatalf("VectorStep = %+v", plan.VectorStep)
	}
	if plan.Strategy != StrategyVector {
		t.Errorf("Strategy = %v, want vector", plan.Strategy)
	}
}

func TestCompileHistorySuppressesImplicitLatestFilter(t *testing.T) {
	reg := testRegistry(t)
	stmt, err := Parse(`SELECT id FROM project WHERE HISTORY()`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plan, err := Compile(stmt, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Contains(plan.SQL, "superseded_by = ''") {
		t.Errorf("expected HISTORY() to suppress the implicit LATEST() filter, got %s", plan.SQL)
	}
}

func TestCompileDefaultLatestFilterApplied(t *testing.T) {
	reg := testRegistry(t)
	stmt, err := Parse(`SELECT id FROM project WHERE status = 'active'`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plan, err := Compile(stmt, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(plan.SQL, "superseded_by = ''") {
		t.Errorf("expected the implicit LATEST() default, got %s", plan.SQL)
	}
}

func TestCompileEffConfidencePostFilter(t *testing.T) {
	reg := testRegistry(t)
	stmt, err := Parse(`SELECT id FROM project WHERE EFF_CONFIDENCE > 0.5`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plan, err := Compile(stmt, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(plan.PostFilters) != 1 {
		t.Fatalf("PostFilters = %v, want one computed-field comparison deferred", plan.PostFilters)
	}
}

func TestCompileFreshReadsDurationArgument(t *testing.T) {
	reg := testRegistry(t)
	short, err := Parse(`SELECT id FROM project WHERE FRESH(7d)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	shortPlan, err := Compile(short, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	long, err := Parse(`SELECT id FROM project WHERE FRESH(365d)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	longPlan, err := Compile(long, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(shortPlan.SQL, "observed_at") {
		t.Errorf("expected FRESH() to compile against observed_at, got %s", shortPlan.SQL)
	}
	if shortPlan.Params[len(shortPlan.Params)-1] == longPlan.Params[len(longPlan.Params)-1] {
		t.Errorf("FRESH(7d) and FRESH(365d) compiled to the same bound parameter: %v", shortPlan.Params)
	}
}

func TestCompileStaleDefersToPostFilter(t *testing.T) {
	reg := testRegistry(t)
	stmt, err := Parse(`SELECT id FROM project WHERE STALE()`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plan, err := Compile(stmt, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(plan.PostFilters) != 1 {
		t.Fatalf("PostFilters = %v, want STALE() deferred to the post-filter pass", plan.PostFilters)
	}
	if strings.Contains(plan.SQL, "confidence") {
		t.Errorf("expected STALE() not to compile a raw confidence comparison into SQL, got %s", plan.SQL)
	}
}

func TestCompileCurrentAndExpiredBoundaryOperators(t *testing.T) {
	reg := testRegistry(t)
	cur, err := Parse(`SELECT id FROM project WHERE CURRENT()`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	curPlan, err := Compile(cur, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(curPlan.SQL, "valid_until >= strftime") {
		t.Errorf("expected CURRENT() to use the inclusive >= boundary (P9), got %s", curPlan.SQL)
	}

	exp, err := Parse(`SELECT id FROM project WHERE EXPIRED()`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	expPlan, err := Compile(exp, reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(expPlan.SQL, "valid_until < strftime") {
		t.Errorf("expected EXPIRED() to use the strict < boundary, got %s", expPlan.SQL)
	}
}
