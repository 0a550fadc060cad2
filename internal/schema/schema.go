// Package schema parses schema definitions and validates document
// frontmatter against them. Schema shapes are data, not types (9.
// "Dynamic schemas"): validation is entirely table-driven.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType names one of the field-type rules from 4.2.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeFloat    FieldType = "float"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
	TypeDuration FieldType = "duration"
	TypeEnum     FieldType = "enum"
	TypeRef      FieldType = "ref"
	TypeRefArray FieldType = "ref[]"
	TypeStrArray FieldType = "string[]"
	TypeMap      FieldType = "map<string,string>"
	TypeJSON     FieldType = "json"
)

// IndexDomain names the storage/indexing strategy a field type implies.
type IndexDomain string

const (
	DomainFTS    IndexDomain = "fts"
	DomainBTree  IndexDomain = "btree"
	DomainHash   IndexDomain = "hash"
	DomainBitmap IndexDomain = "bitmap"
	DomainNone   IndexDomain = "none"
)

// IndexDomainFor reports the indexable domain for a field type, used by
// the Index (L5) to choose storage (4.2).
func IndexDomainFor(t FieldType) IndexDomain {
	switch t {
	case TypeString:
		return DomainFTS
	case TypeInteger, TypeFloat, TypeDate, TypeDateTime, TypeDuration:
		return DomainBTree
	case TypeEnum, TypeRef:
		return DomainHash
	case TypeBoolean:
		return DomainBitmap
	case TypeRefArray, TypeStrArray:
		return DomainHash
	case TypeMap, TypeJSON:
		return DomainNone
	default:
		return DomainNone
	}
}

// FieldDef describes one field of a schema.
type FieldDef struct {
	Name       string    `yaml:"-"`
	Type       FieldType `yaml:"type"`
	Required   bool      `yaml:"required"`
	Indexed    bool      `yaml:"indexed"`
	Searchable bool      `yaml:"searchable"`
	EnumValues []string  `yaml:"enum_values,omitempty"`
	RefType    string    `yaml:"ref_type,omitempty"`
	Default    any       `yaml:"default,omitempty"`
}

// Severity of a cross-field validation rule.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Rule is a cross-field validation rule. Expr is evaluated by the
// validator's small rule interpreter (see validate.go); the rule
// vocabulary is intentionally narrow (field comparisons and presence
// checks) rather than a general expression language.
type Rule struct {
	Name     string   `yaml:"name"`
	Expr     string   `yaml:"expr"`
	Severity Severity `yaml:"severity"`
	Message  string   `yaml:"message"`
}

// Computed is a computed-field expression, evaluated at read time rather
// than stored (mirrors EFF_CONFIDENCE/FRESHNESS in MKQL).
type Computed struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// DecayProfile is the per-type decay configuration consumed by the
// Temporal Gate (4.3.1). HalfLife/HardExpiry of zero mean "never".
type DecayProfile struct {
	HalfLife         Duration            `yaml:"half_life"`
	HardExpiry       Duration            `yaml:"hard_expiry"`
	PerFieldOverride map[string]Duration `yaml:"per_field_overrides,omitempty"`
}

// Schema is a named type: field definitions, cross-field rules, computed
// fields, and a decay profile, plus a single-inheritance "extends" edge.
type Schema struct {
	Name     string              `yaml:"name"`
	Extends  string              `yaml:"extends,omitempty"`
	Fields   map[string]FieldDef `yaml:"fields"`
	Rules    []Rule              `yaml:"rules,omitempty"`
	Computed []Computed          `yaml:"computed,omitempty"`
	Decay    DecayProfile        `yaml:"decay"`
}

// schemaFile is the on-disk shape of schemas/<type>.yaml.
type schemaFile struct {
	Name     string              `yaml:"name"`
	Extends  string              `yaml:"extends,omitempty"`
	Fields   map[string]FieldDef `yaml:"fields"`
	Rules    []Rule              `yaml:"rules,omitempty"`
	Computed []Computed          `yaml:"computed,omitempty"`
	Decay    DecayProfile        `yaml:"decay"`
}

// SchemaDefinitionError reports a malformed schema file.
type SchemaDefinitionError struct {
	Path string
	Err  error
}

func (e *SchemaDefinitionError) Error() string {
	return fmt.Sprintf("schema definition error in %s: %v", e.Path, e.Err)
}
func (e *SchemaDefinitionError) Unwrap() error { return e.Err }

// Registry holds every loaded schema, keyed by type name, with `extends`
// edges resolved (fields/rules/decay inherited from the base schema
// unless overridden).
type Registry struct {
	schemas map[string]*Schema
}

// BaseSchemaName is the root of the single-inheritance chain; it supplies
// the temporal and provenance fields common to every type (§3, Schema).
const BaseSchemaName = "_base"

// LoadSchemas parses every schema file in dir, resolves `extends` edges,
// and rejects cycles.
func LoadSchemas(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}

	raw := make(map[string]*Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &SchemaDefinitionError{Path: path, Err: err}
		}
		var sf schemaFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, &SchemaDefinitionError{Path: path, Err: err}
		}
		if sf.Name == "" {
			sf.Name = strings.TrimSuffix(e.Name(), ".yaml")
		}
		for name, fd := range sf.Fields {
			fd.Name = name
			sf.Fields[name] = fd
		}
		raw[sf.Name] = &Schema{
			Name: sf.Name, Extends: sf.Extends, Fields: sf.Fields,
			Rules: sf.Rules, Computed: sf.Computed, Decay: sf.Decay,
		}
	}

	if err := detectCycles(raw); err != nil {
		return nil, err
	}

	resolved := make(map[string]*Schema, len(raw))
	for name := range raw {
		s, err := resolve(name, raw, map[string]bool{})
		if err != nil {
			return nil, err
		}
		resolved[name] = s
	}

	return &Registry{schemas: resolved}, nil
}

func detectCycles(raw map[string]*Schema) error {
	for start := range raw {
		visited := map[string]bool{start: true}
		cur := raw[start]
		for cur != nil && cur.Extends != "" {
			if visited[cur.Extends] {
				return &SchemaDefinitionError{Path: start, Err: fmt.Errorf("extends cycle detected at %q", cur.Extends)}
			}
			visited[cur.Extends] = true
			cur = raw[cur.Extends]
		}
	}
	return nil
}

// resolve flattens a schema's `extends` chain: base fields/rules/decay
// apply first, child overrides win on name collision.
func resolve(name string, raw map[string]*Schema, seen map[string]bool) (*Schema, error) {
	s, ok := raw[name]
	if !ok {
		return nil, &SchemaDefinitionError{Path: name, Err: fmt.Errorf("undefined schema %q referenced by extends", name)}
	}
	if s.Extends == "" {
		return cloneSchema(s), nil
	}
	if seen[name] {
		return nil, &SchemaDefinitionError{Path: name, Err: fmt.Errorf("extends cycle at %q", name)}
	}
	seen[name] = true

	parent, err := resolve(s.Extends, raw, seen)
	if err != nil {
		return nil, err
	}

	merged := cloneSchema(parent)
	merged.Name = s.Name
	merged.Extends = s.Extends
	for fname, fd := range s.Fields {
		merged.Fields[fname] = fd
	}
	merged.Rules = append(append([]Rule{}, parent.Rules...), s.Rules...)
	merged.Computed = append(append([]Computed{}, parent.Computed...), s.Computed...)
	if s.Decay.HalfLife != (Duration{}) || s.Decay.HardExpiry != (Duration{}) {
		merged.Decay = s.Decay
	}
	return merged, nil
}

func cloneSchema(s *Schema) *Schema {
	fields := make(map[string]FieldDef, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return &Schema{
		Name: s.Name, Extends: s.Extends, Fields: fields,
		Rules: append([]Rule{}, s.Rules...), Computed: append([]Computed{}, s.Computed...),
		Decay: s.Decay,
	}
}

// Get returns the schema for type, or (nil, false) if unknown.
func (r *Registry) Get(typeName string) (*Schema, bool) {
	s, ok := r.schemas[typeName]
	return s, ok
}

// Types lists every registered type name.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	return out
}
