package schema

import (
	"testing"

	"github.com/viktorbezdek/mkb/internal/core"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	writeSchema(t, dir, "project", `
name: project
fields:
  status:
    type: enum
    required: true
    enum_values: [active, done]
  priority:
    type: integer
    required: false
rules:
  - name: priority_bounds
    expr: "priority >= 0"
    severity: warning
    message: "priority should not be negative"
`)
	reg, err := LoadSchemas(dir)
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	return reg
}

func TestValidateRequiredFieldMissing(t *testing.T) {
	reg := testRegistry(t)
	doc := &core.Document{Type: "project", Fields: map[string]any{}}
	res := Validate(doc, reg)
	if res.OK() {
		t.Fatal("expected a fatal violation for missing required field")
	}
	found := false
	for _, v := range res.Fatal {
		if v.Field == "status" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a fatal violation on 'status', got %+v", res.Fatal)
	}
}

func TestValidateEnumMembership(t *testing.T) {
	reg := testRegistry(t)
	doc := &core.Document{Type: "project", Fields: map[string]any{"status": "archived"}}
	res := Validate(doc, reg)
	if res.OK() {
		t.Fatal("expected a fatal violation for invalid enum value")
	}
}

func TestValidateWarningDoesNotReject(t *testing.T) {
	reg := testRegistry(t)
	doc := &core.Document{Type: "project", Fields: map[string]any{"status": "active", "priority": -1}}
	res := Validate(doc, reg)
	if !res.OK() {
		t.Fatalf("expected document to be admissible despite a warning, got fatal: %+v", res.Fatal)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %d", len(res.Warnings))
	}
}

func TestValidateUnknownType(t *testing.T) {
	reg := testRegistry(t)
	doc := &core.Document{Type: "nonexistent", Fields: map[string]any{}}
	res := Validate(doc, reg)
	if res.OK() {
		t.Fatal("expected a fatal violation for unknown type")
	}
}
