package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// knownKeys are frontmatter keys modeled directly on Document. Everything
// else round-trips through Fields verbatim (I7, P2).
var knownKeys = map[string]bool{
	"id": true, "type": true,
	"observed_at": true, "valid_until": true, "temporal_precision": true, "occurred_at": true,
	"source": true, "source_hash": true, "provenance": true,
	"confidence": true,
	"supersedes": true, "superseded_by": true, "superseded_at": true,
	"tags": true, "links": true,
}

// ParseFrontmatter accepts the `---\n...\n---\nbody` envelope, tolerates
// arbitrary field order, and preserves unknown fields verbatim in
// Document.Fields. _created_at/_modified_at are file-lifecycle metadata
// supplied by the caller (Vault), not parsed from the envelope.
func ParseFrontmatter(content []byte) (*Document, error) {
	var raw map[string]any
	body, err := frontmatter.Parse(bytes.NewReader(content), &raw)
	if err != nil {
		return nil, &ParseError{Kind: "MalformedFrontmatter", Msg: err.Error()}
	}

	doc := &Document{Fields: map[string]any{}, Body: string(body)}

	if v, ok := raw["id"].(string); ok {
		doc.ID = v
	}
	if v, ok := raw["type"].(string); ok {
		doc.Type = v
	}
	if v, ok := raw["source"].(string); ok {
		doc.Source = v
	}
	if v, ok := raw["source_hash"].(string); ok {
		doc.SourceHash = v
	}
	if v, ok := raw["provenance"].(string); ok {
		doc.Method = v
	}
	if v, ok := raw["supersedes"].(string); ok {
		doc.Supersedes = v
	}
	if v, ok := raw["superseded_by"].(string); ok {
		doc.SupersededBy = v
	}

	if v, ok := raw["confidence"]; ok {
		f, convErr := toFloat(v)
		if convErr != nil {
			return nil, &ParseError{Kind: "InvalidTemporalValue", Msg: "confidence: " + convErr.Error()}
		}
		doc.Confidence = f
	} else {
		doc.Confidence = 1.0 // base default for human-authored documents (§3)
	}

	if v, ok := raw["temporal_precision"].(string); ok {
		doc.TemporalPrecision = Precision(v)
	}

	if v, ok := raw["observed_at"]; ok {
		t, parseErr := parseTime(v)
		if parseErr != nil {
			return nil, &ParseError{Kind: "InvalidTemporalValue", Msg: "observed_at: " + parseErr.Error()}
		}
		doc.ObservedAt = t
	}
	if v, ok := raw["valid_until"]; ok {
		t, parseErr := parseTime(v)
		if parseErr != nil {
			return nil, &ParseError{Kind: "InvalidTemporalValue", Msg: "valid_until: " + parseErr.Error()}
		}
		doc.ValidUntil = t
	}
	if v, ok := raw["occurred_at"]; ok {
		t, parseErr := parseTime(v)
		if parseErr != nil {
			return nil, &ParseError{Kind: "InvalidTemporalValue", Msg: "occurred_at: " + parseErr.Error()}
		}
		doc.OccurredAt = &t
	}
	if v, ok := raw["superseded_at"]; ok {
		t, parseErr := parseTime(v)
		if parseErr != nil {
			return nil, &ParseError{Kind: "InvalidTemporalValue", Msg: "superseded_at: " + parseErr.Error()}
		}
		doc.SupersededAt = &t
	}

	if v, ok := raw["tags"]; ok {
		doc.Tags = toStringSlice(v)
	}
	if v, ok := raw["links"]; ok {
		links, linkErr := toLinks(v)
		if linkErr != nil {
			return nil, &ParseError{Kind: "InvalidTemporalValue", Msg: "links: " + linkErr.Error()}
		}
		doc.Links = links
	}

	for k, v := range raw {
		if !knownKeys[k] {
			doc.Fields[k] = v
		}
	}

	return doc, nil
}

// SerialiseDocument renders doc back to the `---\n...\n---\nbody` envelope.
// parse∘serialise is identity on known fields (P2): unknown fields in
// Fields are re-encoded from their parsed values, so their original
// formatting and key order are not kept.
func SerialiseDocument(doc *Document) []byte {
	m := map[string]any{
		"id":                 doc.ID,
		"type":               doc.Type,
		"observed_at":        formatTime(doc.ObservedAt),
		"valid_until":        formatTime(doc.ValidUntil),
		"temporal_precision": string(doc.TemporalPrecision),
		"confidence":         doc.Confidence,
	}
	if doc.OccurredAt != nil {
		m["occurred_at"] = formatTime(*doc.OccurredAt)
	}
	if doc.Source != "" {
		m["source"] = doc.Source
	}
	if doc.SourceHash != "" {
		m["source_hash"] = doc.SourceHash
	}
	if doc.Method != "" {
		m["provenance"] = doc.Method
	}
	if doc.Supersedes != "" {
		m["supersedes"] = doc.Supersedes
	}
	if doc.SupersededBy != "" {
		m["superseded_by"] = doc.SupersededBy
	}
	if doc.SupersededAt != nil {
		m["superseded_at"] = formatTime(*doc.SupersededAt)
	}
	if len(doc.Tags) > 0 {
		m["tags"] = doc.Tags
	}
	if len(doc.Links) > 0 {
		m["links"] = doc.Links
	}
	for k, v := range doc.Fields {
		m[k] = v
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]yamlKV, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, yamlKV{k, m[k]})
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	_ = enc.Encode(orderedMap(ordered))
	enc.Close()
	buf.WriteString("---\n")
	buf.WriteString(doc.Body)
	return buf.Bytes()
}

// ContentHash computes the source_hash from body + frontmatter bytes (I7).
func ContentHash(frontmatterBytes, body []byte) string {
	h := sha256.New()
	h.Write(frontmatterBytes)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type yamlKV struct {
	Key   string
	Value any
}

// orderedMap renders a slice of key/value pairs as a yaml.Node mapping so
// field order is deterministic across serialise calls (needed for stable
// diffs and for I7's hash to be reproducible).
type orderedMap []yamlKV

func (m orderedMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, kv := range m {
		keyNode := &yaml.Node{}
		_ = keyNode.Encode(kv.Key)
		valNode := &yaml.Node{}
		_ = valNode.Encode(kv.Value)
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02", val); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", val)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
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
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func toStringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toLinks(v any) ([]Link, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list")
	}
	links := make([]Link, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		l := Link{}
		if rel, ok := m["rel"].(string); ok {
			l.Rel = rel
		}
		if target, ok := m["target"].(string); ok {
			l.Target = target
		}
		if raw, ok := m["observed_at"]; ok {
			t, err := parseTime(raw)
			if err != nil {
				return nil, err
			}
			l.ObservedAt = t
		}
		if md, ok := m["metadata"].(map[string]any); ok {
			l.Metadata = md
		}
		links = append(links, l)
	}
	return links, nil
}

// TrimTrailingFence reports whether the closing `---` fence is free of
// trailing whitespace: it returns false when the second fence line
// carries trailing spaces or tabs, and true otherwise. ParseFrontmatter
// does not call it.
func TrimTrailingFence(content []byte) bool {
	lines := strings.Split(string(content), "\n")
	seen := 0
	for _, line := range lines {
		if strings.TrimRight(line, " \t") == "---" {
			seen++
			if seen == 2 && line != "---" {
				return false
			}
		}
	}
	return true
}
