package assembler

import (
	"strings"
	"testing"
	"time"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/mkql"
)

func makeRow(id string, relevance, effConf, freshness float64, body string) mkql.Row {
	return mkql.Row{
		Doc: &core.Document{
			ID:   id,
			Type: "project",
			TemporalFields: core.TemporalFields{
				ObservedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			},
			Confidence: effConf,
			Body:       body,
		},
		Computed: map[string]float64{
			"RELEVANCE":      relevance,
			"EFF_CONFIDENCE": effConf,
			"FRESHNESS":      freshness,
		},
	}
}

func TestAssembleRespectsPriorityOrder(t *testing.T) {
	rows := []mkql.Row{
		makeRow("low", 0.1, 0.1, 0.1, "low priority body"),
		makeRow("high", 0.9, 0.9, 0.9, "high priority body"),
	}
	a := New(DefaultRenderer{})
	result, err := a.Assemble(rows, 0)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(result.Included) != 2 || result.Included[0] != "high" {
		t.Fatalf("Included = %v, want high first", result.Included)
	}
}

func TestAssembleNeverExceedsBudget(t *testing.T) {
	var rows []mkql.Row
	for i := 0; i < 10; i++ {
		rows = append(rows, makeRow(
			string(rune('a'+i)), 1.0-float64(i)*0.05, 0.8, 0.8,
			strings.Repeat("word ", 400), // large body, forces fallback/drop
		))
	}
	a := New(DefaultRenderer{})
	budget := 100
	result, err := a.Assemble(rows, budget)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if a.Tokenizer.Count(result.Text) > budget {
		t.Fatalf("packed output is %d tokens, budget was %d", a.Tokenizer.Count(result.Text), budget)
	}
}

func TestAssembleEmptyWhenNothingFits(t *testing.T) {
	rows := []mkql.Row{makeRow("a", 0.5, 0.5, 0.5, strings.Repeat("x", 10000))}
	a := New(DefaultRenderer{})
	result, err := a.Assemble(rows, 1)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.Text != "" {
		t.Fatalf("expected empty text, got %q", result.Text)
	}
	if len(result.Diagnostic.Dropped) != 1 {
		t.Fatalf("Diagnostic.Dropped = %v, want one dropped id", result.Diagnostic.Dropped)
	}
}

func TestAssembleSeparatorIsStable(t *testing.T) {
	rows := []mkql.Row{
		makeRow("a", 0.9, 0.9, 0.9, "first"),
		makeRow("b", 0.8, 0.8, 0.8, "second"),
	}
	a := New(DefaultRenderer{})
	result, err := a.Assemble(rows, 0)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(result.Text, Separator) {
		t.Fatalf("expected output to contain the stable separator, got %q", result.Text)
	}
}

func TestCharTokenizerApproximatesFourCharsPerToken(t *testing.T) {
	tok := CharTokenizer{}
	if got := tok.Count("12345678"); got != 2 {
		t.Errorf("Count(8 chars) = %d, want 2", got)
	}
}
