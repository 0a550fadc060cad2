package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/mkql"
	"github.com/viktorbezdek/mkb/internal/vault"
)

func updateCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "update <path>",
		Short: "Read-modify-write a document's fields and re-run the gate (exit 4 on rejection)",
		Long: `Reads the document at the given vault-relative path, applies each
--set key=value as a frontmatter field update, preserves _created_at,
bumps _modified_at, and re-admits the result through the Temporal Gate
before writing (spec.md §4.4).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(args[0], sets)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "A field=value assignment, may be repeated")
	return cmd
}

func runUpdate(relPath string, sets []string) error {
	root, err := resolveVaultRoot()
	if err != nil {
		return err
	}

	reg, idx, rejects, closeFn, err := openVault(root)
	if err != nil {
		return err
	}
	defer closeFn()

	fields := map[string]string{}
	for _, kv := range sets {
		k, val, ok := strings.Cut(kv, "=")
		if !ok {
			return userError(fmt.Sprintf("invalid --set %q", kv), "expected field=value")
		}
		fields[k] = val
	}

	v := vault.New(root, reg)
	v.Rejects = rejects

	patch := func(doc *core.Document) {
		if doc.Fields == nil {
			doc.Fields = map[string]any{}
		}
		for k, val := range fields {
			doc.Fields[k] = val
		}
	}

	res, err := v.Update(relPath, patch, gate.Candidate{})
	if err != nil {
		return &mkql.RuntimeError{Kind: "runtime", Err: fmt.Errorf("update %s: %w", relPath, err)}
	}
	if res.Rejection != nil {
		return &temporalRejectionErr{rejection: res.Rejection}
	}

	if err := idx.Ingest(res.Doc, res.Path, reg); err != nil {
		return &mkql.RuntimeError{Kind: "runtime", Err: fmt.Errorf("index %s: %w", res.Path, err)}
	}

	fmt.Printf("  updated %s\n", res.Path)
	return nil
}
