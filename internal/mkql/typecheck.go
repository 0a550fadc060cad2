package mkql

import (
	"fmt"
	"strings"

	"github.com/viktorbezdek/mkb/internal/schema"
)

// TypeError reports a field reference or comparison the registry cannot
// support (4.6.2: "type checker resolves field references against the
// Schema Registry, rejects unknown fields and type-incompatible
// comparisons").
type TypeError struct {
	Field string
	Msg   string
}

func (e *TypeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return e.Msg
}

// TypeCheck resolves every field reference in stmt against reg and
// flags statically-detectable nonsense: unknown types, unknown fields,
// and predicate combinations that can never match (e.g. comparing a
// string field with a numeric literal).
func TypeCheck(stmt *SelectStmt, reg *schema.Registry) error {
	if !stmt.Wildcard {
		for _, t := range stmt.Types {
			if _, ok := reg.Get(t); !ok {
				return &TypeError{Field: t, Msg: "unknown document type"}
			}
		}
	}

	schemas := resolveSchemas(stmt, reg)

	for _, f := range stmt.Fields {
		if f.Star || f.Computed != "" {
			continue
		}
		if err := checkFieldKnown(f.Path[0], schemas); err != nil {
			return err
		}
	}

	if stmt.Where != nil {
		if err := checkExpr(stmt.Where, schemas); err != nil {
			return err
		}
	}

	for _, l := range stmt.Links {
		if l.TargetType != "" {
			if _, ok := reg.Get(l.TargetType); !ok {
				return &TypeError{Field: l.TargetType, Msg: "unknown link target type"}
			}
		}
	}

	return nil
}

// resolveSchemas returns the set of schemas the statement ranges over,
// used to validate field references across however many types FROM
// names. An empty/wildcard FROM skips field-existence checks since any
// type may be queried.
func resolveSchemas(stmt *SelectStmt, reg *schema.Registry) []*schema.Schema {
	if stmt.Wildcard {
		return nil
	}
	var out []*schema.Schema
	for _, t := range stmt.Types {
		if s, ok := reg.Get(t); ok {
			out = append(out, s)
		}
	}
	return out
}

// intrinsicFields are always valid regardless of schema (core document
// columns, not user-defined schema fields).
var intrinsicFields = map[string]bool{
	"id": true, "type": true, "observed_at": true, "valid_until": true,
	"occurred_at": true, "temporal_precision": true, "confidence": true,
	"source_hash": true, "superseded_by": true, "supersedes": true,
	"body": true, "tags": true, "path": true, "created_at": true, "modified_at": true,
}

func checkFieldKnown(name string, schemas []*schema.Schema) error {
	if intrinsicFields[strings.ToLower(name)] || ComputedFields[strings.ToUpper(name)] {
		return nil
	}
	if schemas == nil {
		return nil // wildcard FROM: can't statically rule out any field
	}
	for _, s := range schemas {
		if _, ok := s.Fields[name]; ok {
			return nil
		}
	}
	return &TypeError{Field: name, Msg: "not defined on any selected type's schema"}
}

func checkExpr(e Expr, schemas []*schema.Schema) error {
	switch v := e.(type) {
	case *BinaryExpr:
		if fr, ok := v.LHS.(*FieldRef); ok {
			if err := checkFieldKnown(fr.Path[0], schemas); err != nil {
				return err
			}
			if lit, ok := v.RHS.(*Literal); ok {
				if err := checkComparable(fr.Path[0], lit, schemas); err != nil {
					return err
				}
			}
			return nil
		}
		if err := checkExpr(v.LHS, schemas); err != nil {
			return err
		}
		return checkExpr(v.RHS, schemas)
	case *NotExpr:
		return checkExpr(v.Expr, schemas)
	case *FieldRef:
		return checkFieldKnown(v.Path[0], schemas)
	case *InExpr:
		return checkFieldKnown(v.Field.Path[0], schemas)
	case *IsNullExpr:
		return checkFieldKnown(v.Field.Path[0], schemas)
	case *FuncPredicate:
		for _, a := range v.Args {
			if err := checkExpr(a, schemas); err != nil {
				return err
			}
		}
		return nil
	case *Literal:
		return nil
	}
	return nil
}

// checkComparable rejects statically-known type mismatches, e.g.
// comparing a string-typed field against a bare numeric literal.
func checkComparable(field string, lit *Literal, schemas []*schema.Schema) error {
	if schemas == nil {
		return nil
	}
	for _, s := range schemas {
		fd, ok := s.Fields[field]
		if !ok {
			continue
		}
		switch fd.Type {
		case schema.TypeString, schema.TypeEnum:
			if lit.Kind == TokNumber {
				return &TypeError{Field: field, Msg: "compared against a numeric literal but is string-typed"}
			}
		case schema.TypeInteger, schema.TypeFloat:
			if lit.Kind == TokString {
				return &TypeError{Field: field, Msg: "compared against a string literal but is numeric"}
			}
		}
	}
	return nil
}
