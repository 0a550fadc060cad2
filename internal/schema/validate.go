package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
)

// Violation is either a fatal rejection or a recorded warning, mirroring
// the error taxonomy's SchemaViolation (§7.1/§7.5).
type Violation struct {
	Field    string
	Rule     string
	Severity Severity
	Msg      string
}

func (v Violation) toCore() *core.SchemaViolation {
	return &core.SchemaViolation{Field: v.Field, Rule: v.Rule, Severity: string(v.Severity), Msg: v.Msg}
}

// Result collects the outcome of Validate: Fatal rejects the document,
// Warnings ride along and surface through the query `warnings` channel.
type Result struct {
	Fatal    []Violation
	Warnings []Violation
}

// OK reports whether the document may be admitted (no fatal violations).
func (r Result) OK() bool { return len(r.Fatal) == 0 }

// Validate checks doc.Fields against the schema for doc.Type: required and
// typed fields, enum membership, and cross-field rules. Unknown doc.Type
// yields a single fatal UnknownType-equivalent violation rather than a Go
// error, since the caller (Temporal Gate) needs uniform Result handling.
func Validate(doc *core.Document, registry *Registry) Result {
	s, ok := registry.Get(doc.Type)
	if !ok {
		return Result{Fatal: []Violation{{
			Field: "type", Rule: "known_type", Severity: SeverityFatal,
			Msg: fmt.Sprintf("unknown type %q", doc.Type),
		}}}
	}

	var res Result
	for name, fd := range s.Fields {
		v, present := doc.Fields[name]
		if !present {
			if fd.Required {
				res.Fatal = append(res.Fatal, Violation{
					Field: name, Rule: "required", Severity: SeverityFatal,
					Msg: "required field is missing",
				})
			}
			continue
		}
		if violation, ok := checkType(name, fd, v); !ok {
			violation.Severity = SeverityFatal
			res.Fatal = append(res.Fatal, violation)
		}
	}

	for _, rule := range s.Rules {
		if ok, msg := evalRule(rule, doc); !ok {
			v := Violation{Field: rule.Name, Rule: rule.Expr, Severity: rule.Severity, Msg: firstNonEmpty(rule.Message, msg)}
			if rule.Severity == SeverityFatal {
				res.Fatal = append(res.Fatal, v)
			} else {
				res.Warnings = append(res.Warnings, v)
			}
		}
	}

	return res
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// checkType validates a single field's type per the 4.2 field-type rules.
func checkType(name string, fd FieldDef, v any) (Violation, bool) {
	bad := func(msg string) (Violation, bool) {
		return Violation{Field: name, Rule: string(fd.Type), Msg: msg}, false
	}

	switch fd.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return bad("expected string")
		}
	case TypeInteger:
		switch v.(type) {
		case int, int64, float64:
		default:
			return bad("expected integer")
		}
	case TypeFloat:
		switch v.(type) {
		case float64, int, int64:
		default:
			return bad("expected float")
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return bad("expected boolean")
		}
	case TypeDate:
		s, ok := v.(string)
		if !ok {
			return bad("expected date string")
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return bad("expected YYYY-MM-DD date: " + err.Error())
		}
	case TypeDateTime:
		s, ok := v.(string)
		if !ok {
			return bad("expected datetime string")
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return bad("expected RFC3339 datetime: " + err.Error())
		}
	case TypeDuration:
		s, ok := v.(string)
		if !ok {
			return bad("expected duration string")
		}
		if _, err := ParseDuration(s); err != nil {
			return bad(err.Error())
		}
	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return bad("expected string enum value")
		}
		found := false
		for _, allowed := range fd.EnumValues {
			if s == allowed {
				found = true
				break
			}
		}
		if !found {
			return bad(fmt.Sprintf("%q is not one of %v", s, fd.EnumValues))
		}
	case TypeRef:
		if _, ok := v.(string); !ok {
			return bad("expected ref (document id string)")
		}
	case TypeRefArray:
		if !isStringList(v) {
			return bad("expected ref[] (list of document ids)")
		}
	case TypeStrArray:
		if !isStringList(v) {
			return bad("expected string[]")
		}
	case TypeMap:
		m, ok := v.(map[string]any)
		if !ok {
			return bad("expected map<string,string>")
		}
		for k, val := range m {
			if _, ok := val.(string); !ok {
				return bad(fmt.Sprintf("map value for key %q must be a string", k))
			}
		}
	case TypeJSON:
		// any well-formed YAML/JSON scalar, list, or map is accepted verbatim.
	default:
		return bad(fmt.Sprintf("unrecognised field type %q", fd.Type))
	}
	return Violation{}, true
}

func isStringList(v any) bool {
	switch val := v.(type) {
	case []string:
		return true
	case []any:
		for _, item := range val {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// evalRule interprets a narrow cross-field expression language: field
// presence ("field?"), field comparisons ("a < b", "a == b"), and
// conjunctions ("... && ..."). This is deliberately not a general
// expression evaluator; MKQL's own expression grammar lives in
// internal/mkql and is not reused here to keep schema rules simple to
// audit by reading the schema file.
func evalRule(rule Rule, doc *core.Document) (bool, string) {
	expr := strings.TrimSpace(rule.Expr)
	for _, clause := range strings.Split(expr, "&&") {
		clause = strings.TrimSpace(clause)
		if ok, msg := evalClause(clause, doc); !ok {
			return false, msg
		}
	}
	return true, ""
}

func evalClause(clause string, doc *core.Document) (bool, string) {
	if strings.HasSuffix(clause, "?") {
		field := strings.TrimSuffix(clause, "?")
		_, present := lookupField(doc, field)
		if !present {
			return false, fmt.Sprintf("%s is required by rule but absent", field)
		}
		return true, ""
	}
	for _, op := range []string{"<=", ">=", "==", "!=", "<", ">"} {
		if idx := strings.Index(clause, op); idx > 0 {
			lhs := strings.TrimSpace(clause[:idx])
			rhs := strings.TrimSpace(clause[idx+len(op):])
			return compareClause(doc, lhs, op, rhs)
		}
	}
	return true, ""
}

func compareClause(doc *core.Document, lhs, op, rhs string) (bool, string) {
	lv, lok := lookupField(doc, lhs)
	if !lok {
		return true, "" // absent field: required-ness is checked separately
	}
	lf, lErr := toFloat(lv)
	rf, rErr := strconv.ParseFloat(rhs, 64)
	if rErr != nil {
		if rv, rok := lookupField(doc, rhs); rok {
			rf, rErr = toFloat(rv)
		}
	}
	if lErr != nil || rErr != nil {
		return true, "" // non-numeric comparison: not evaluated by this interpreter
	}
	var ok bool
	switch op {
	case "<":
		ok = lf < rf
	case "<=":
		ok = lf <= rf
	case ">":
		ok = lf > rf
	case ">=":
		ok = lf >= rf
	case "==":
		ok = lf == rf
	case "!=":
		ok = lf != rf
	}
	if !ok {
		return false, fmt.Sprintf("%s %s %s failed", lhs, op, rhs)
	}
	return true, ""
}

func lookupField(doc *core.Document, name string) (any, bool) {
	switch name {
	case "confidence":
		return doc.Confidence, true
	case "id":
		return doc.ID, true
	case "type":
		return doc.Type, true
	default:
		v, ok := doc.Fields[name]
		return v, ok
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
