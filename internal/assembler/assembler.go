// Package assembler implements the Context Assembler: token-budgeted,
// priority-ranked packing of query results into an LLM-ready string
// (spec.md 4.7.2).
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/viktorbezdek/mkb/internal/mkql"
)

// Format names a rendering of a document, from most to least verbose.
// The packer falls back down this list when a document doesn't fit at
// its declared format.
type Format string

const (
	FormatFull        Format = "full"
	FormatSummary      Format = "summary"
	FormatFrontmatter  Format = "frontmatter"
	FormatSnippet      Format = "snippet"
)

// formatFallbackOrder is the fixed fallback chain (4.7.2 step 2).
var formatFallbackOrder = []Format{FormatFull, FormatSummary, FormatFrontmatter, FormatSnippet}

// Tokenizer counts the tokens a string would consume, letting callers
// plug in a real model tokeniser; Default is a fast approximate
// character-based counter (4.7.2 step 4), grounded on the teacher's
// internal/memory/budget.go EstimateTokens (~4 chars/token).
type Tokenizer interface {
	Count(s string) int
}

// CharTokenizer is the default Tokenizer: len(s)/4, rounded up.
type CharTokenizer struct{}

func (CharTokenizer) Count(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// Weights are the priority formula's coefficients: priority =
// α·RELEVANCE + β·EFF_CONFIDENCE + γ·FRESHNESS (4.7.2).
type Weights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// DefaultWeights matches the spec's stated defaults.
var DefaultWeights = Weights{Alpha: 1.0, Beta: 0.6, Gamma: 0.3}

// Separator is the stable, splittable boundary emitted between packed
// documents (4.7.2 step 3).
const Separator = "\n\n---\n\n"

// Renderer produces each format of a row's content. Callers supply one
// since rendering (markdown templating, frontmatter re-serialisation)
// is a presentation concern the assembler itself is agnostic to.
type Renderer interface {
	Render(row mkql.Row, format Format) (string, error)
}

// Diagnostic is the structured explanation returned when nothing fits
// the budget, or when some candidates were dropped (4.7.2's "if nothing
// fits, the result is empty with a structured diagnostic").
type Diagnostic struct {
	Budget         int      `json:"budget"`
	Candidates     int      `json:"candidates"`
	Packed         int      `json:"packed"`
	Dropped        []string `json:"dropped,omitempty"`
	SmallestFormat int      `json:"smallest_format_tokens,omitempty"`
}

// Result is the assembler's output: the packed text, per-document
// priority order it used, and a diagnostic for observability/testing.
type Result struct {
	Text       string
	Included   []string // document ids, in emission order
	Diagnostic Diagnostic
}

// Assembler packs ranked rows into a token-bounded string.
type Assembler struct {
	Tokenizer Tokenizer
	Weights   Weights
	Renderer  Renderer
}

// New constructs an Assembler with the spec's default weights and
// character-based tokenizer; override either field before calling
// Assemble to customise.
func New(renderer Renderer) *Assembler {
	return &Assembler{Tokenizer: CharTokenizer{}, Weights: DefaultWeights, Renderer: renderer}
}

// Assemble implements the full 4.7.2 algorithm: sort by priority
// descending, greedily pack each document at its best-fitting format,
// and join with Separator. Budget <= 0 means "unbounded" and every
// candidate is packed at FormatFull.
func (a *Assembler) Assemble(rows []mkql.Row, budget int) (Result, error) {
	ranked := append([]mkql.Row(nil), rows...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return a.priority(ranked[i]) > a.priority(ranked[j])
	})

	diag := Diagnostic{Budget: budget, Candidates: len(ranked)}
	if budget <= 0 {
		return a.packUnbounded(ranked, diag)
	}

	var parts []string
	var ids []string
	used := 0
	sep := a.Tokenizer.Count(Separator)
	for _, row := range ranked {
		remaining := budget - used
		if len(parts) > 0 {
			remaining -= sep
		}
		text, tokens, ok, err := a.fitBestFormat(row, remaining)
		if err != nil {
			return Result{}, fmt.Errorf("render %s: %w", row.Doc.ID, err)
		}
		if !ok {
			diag.Dropped = append(diag.Dropped, row.Doc.ID)
			continue
		}
		if len(parts) > 0 {
			used += sep
		}
		parts = append(parts, text)
		ids = append(ids, row.Doc.ID)
		used += tokens
	}

	diag.Packed = len(parts)
	return Result{Text: strings.Join(parts, Separator), Included: ids, Diagnostic: diag}, nil
}

func (a *Assembler) packUnbounded(ranked []mkql.Row, diag Diagnostic) (Result, error) {
	var parts []string
	var ids []string
	for _, row := range ranked {
		text, err := a.Renderer.Render(row, FormatFull)
		if err != nil {
			return Result{}, fmt.Errorf("render %s: %w", row.Doc.ID, err)
		}
		parts = append(parts, text)
		ids = append(ids, row.Doc.ID)
	}
	diag.Packed = len(parts)
	return Result{Text: strings.Join(parts, Separator), Included: ids, Diagnostic: diag}, nil
}

// fitBestFormat tries each format from most to least verbose, returning
// the first whose rendered token count fits within remaining.
func (a *Assembler) fitBestFormat(row mkql.Row, remaining int) (string, int, bool, error) {
	for _, format := range formatFallbackOrder {
		text, err := a.Renderer.Render(row, format)
		if err != nil {
			return "", 0, false, err
		}
		tokens := a.Tokenizer.Count(text)
		if tokens <= remaining {
			return text, tokens, true, nil
		}
	}
	return "", 0, false, nil
}

func (a *Assembler) priority(row mkql.Row) float64 {
	return a.Weights.Alpha*row.Computed["RELEVANCE"] +
		a.Weights.Beta*row.Computed["EFF_CONFIDENCE"] +
		a.Weights.Gamma*row.Computed["FRESHNESS"]
}
