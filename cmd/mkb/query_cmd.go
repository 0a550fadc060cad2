package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/assembler"
	"github.com/viktorbezdek/mkb/internal/config"
	"github.com/viktorbezdek/mkb/internal/mkql"
)

func queryCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "query [mkql]",
		Short: "Run an MKQL SELECT against the vault",
		Long: `Parses, typechecks, compiles, and executes an MKQL statement against
the current vault's index.

Examples:
  mkb query "SELECT * FROM project WHERE status = 'active'"
  mkb query "SELECT title, CONFIDENCE FROM signal ORDER BY FRESHNESS DESC LIMIT 5"
  mkb query "SELECT * FROM decision CONTEXT WINDOW 4000 FORMAT summary"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(strings.Join(args, " "), jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output rows as JSON {columns, rows, warnings}")
	return cmd
}

func runQuery(src string, jsonOut bool) error {
	if strings.TrimSpace(src) == "" {
		return userError("empty query", `provide an MKQL statement: mkb query "SELECT * FROM *"`)
	}

	root, err := resolveVaultRoot()
	if err != nil {
		return err
	}
	reg, idx, _, closeFn, err := openVault(root)
	if err != nil {
		return err
	}
	defer closeFn()

	stmt, err := mkql.Parse(src)
	if err != nil {
		return err
	}
	if err := mkql.TypeCheck(stmt, reg); err != nil {
		return err
	}
	plan, err := mkql.Compile(stmt, reg)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.ConfigPath(root))
	if err != nil {
		return err
	}
	embedder := mkql.NewMockEmbedder(cfg.Embedding.Dimensions)
	rows, err := mkql.Execute(idx, embedder, reg, plan, time.Now())
	if err != nil {
		return err
	}

	if stmt.Context.Present {
		return printContext(rows, stmt.Context)
	}

	columns := resultColumns(stmt)
	if jsonOut {
		return printJSON(columns, rows, stmt)
	}
	printTable(columns, rows, stmt)
	return nil
}

// printContext runs the Context Assembler over rows and prints its
// packed LLM-ready string, or its diagnostic if nothing fit.
func printContext(rows []mkql.Row, opts mkql.ContextOpts) error {
	asm := assembler.New(assembler.DefaultRenderer{})
	result, err := asm.Assemble(rows, opts.Window)
	if err != nil {
		return &mkql.RuntimeError{Kind: "runtime", Err: err}
	}
	if result.Text == "" {
		data, _ := json.MarshalIndent(result.Diagnostic, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(result.Text)
	return nil
}

// resultColumns derives display column names from the statement's
// field list, expanding * and computed fields to their own names.
func resultColumns(stmt *mkql.SelectStmt) []string {
	if stmt.Wildcard {
		return []string{"id", "type", "title", "occurred_at"}
	}
	cols := make([]string, 0, len(stmt.Fields))
	for _, f := range stmt.Fields {
		if f.Alias != "" {
			cols = append(cols, f.Alias)
		} else if f.Computed != "" {
			cols = append(cols, f.Computed)
		} else {
			cols = append(cols, f.Path)
		}
	}
	return cols
}

// printJSON emits the spec's wire form for query results: an object
// {columns, rows, warnings}.
func printJSON(columns []string, rows []mkql.Row, stmt *mkql.SelectStmt) error {
	out := struct {
		Columns  []string        `json:"columns"`
		Rows     [][]interface{} `json:"rows"`
		Warnings []string        `json:"warnings"`
	}{Columns: columns, Warnings: []string{}}

	for _, r := range rows {
		out.Rows = append(out.Rows, rowValues(r, columns))
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printTable(columns []string, rows []mkql.Row, stmt *mkql.SelectStmt) {
	if len(rows) == 0 {
		fmt.Println("No results.")
		return
	}
	fmt.Println(strings.Join(columns, "\t"))
	for _, r := range rows {
		vals := rowValues(r, columns)
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("\n(%d row(s))\n", len(rows))
}

func rowValues(r mkql.Row, columns []string) []interface{} {
	vals := make([]interface{}, len(columns))
	for i, col := range columns {
		switch col {
		case "id":
			vals[i] = r.Doc.ID
		case "type":
			vals[i] = r.Doc.Type
		case "title":
			vals[i] = r.Doc.Fields["title"]
		case "occurred_at":
			if r.Doc.OccurredAt != nil {
				vals[i] = r.Doc.OccurredAt.Format(time.RFC3339)
			}
		case "CONFIDENCE", "EFF_CONFIDENCE", "FRESHNESS", "RELEVANCE", "AGE":
			vals[i] = r.Computed[col]
		default:
			if v, ok := r.Doc.Fields[col]; ok {
				vals[i] = v
			} else if v, ok := r.Computed[col]; ok {
				vals[i] = v
			}
		}
	}
	return vals
}
