package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/mkql"
	"github.com/viktorbezdek/mkb/internal/vault"
)

func createCmd() *cobra.Command {
	var observedAtOverride string
	var supersedes string
	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Admit a markdown file into the vault (exit 4 on temporal rejection)",
		Long: `Parses <file>'s frontmatter, runs it through the Temporal Gate, and
writes the admitted document into the vault at its computed path
(spec.md §4.4). With --supersedes, the prior version at that
vault-relative path is marked superseded in the same operation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args[0], observedAtOverride, supersedes)
		},
	}
	cmd.Flags().StringVar(&observedAtOverride, "observed-at", "", "Caller-supplied observed_at override (RFC3339), used if the file's frontmatter omits it")
	cmd.Flags().StringVar(&supersedes, "supersedes", "", "Vault-relative path of the prior version this document supersedes")
	return cmd
}

func runCreate(path, observedAtOverride, supersedes string) error {
	root, err := resolveVaultRoot()
	if err != nil {
		return err
	}

	reg, idx, rejects, closeFn, err := openVault(root)
	if err != nil {
		return err
	}
	defer closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := core.ParseFrontmatter(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	extraction := gate.Candidate{}
	if observedAtOverride != "" {
		t, perr := time.Parse(time.RFC3339, observedAtOverride)
		if perr != nil {
			return userError("invalid --observed-at", "use RFC3339, e.g. 2026-01-01T00:00:00Z")
		}
		extraction.CallerOverride = &t
	}

	v := vault.New(root, reg)
	v.Rejects = rejects

	var res vault.CreateResult
	if supersedes != "" {
		prior, rerr := v.Read(supersedes)
		if rerr != nil {
			return fmt.Errorf("read %s: %w", supersedes, rerr)
		}
		doc.Supersedes = prior.ID
		res, err = v.Supersede(supersedes, doc, extraction)
	} else {
		res, err = v.Create(doc, extraction)
	}
	if err != nil {
		return &mkql.RuntimeError{Kind: "runtime", Err: fmt.Errorf("create: %w", err)}
	}
	if res.Rejection != nil {
		return &temporalRejectionErr{rejection: res.Rejection}
	}

	if err := idx.Ingest(res.Doc, res.Path, reg); err != nil {
		return &mkql.RuntimeError{Kind: "runtime", Err: fmt.Errorf("index %s: %w", res.Path, err)}
	}
	if supersedes != "" {
		if prior, rerr := v.Read(supersedes); rerr == nil {
			if ierr := idx.Ingest(prior, supersedes, reg); ierr != nil {
				return &mkql.RuntimeError{Kind: "runtime", Err: fmt.Errorf("reindex superseded %s: %w", supersedes, ierr)}
			}
		}
	}

	fmt.Printf("  created %s\n", res.Path)
	return nil
}

// temporalRejectionErr wraps a gate rejection so exitCode can map it onto
// exit 4 ("temporal rejection", spec.md §6) instead of the generic 1.
type temporalRejectionErr struct {
	rejection *gate.Rejected
}

func (e *temporalRejectionErr) Error() string {
	return fmt.Sprintf("rejected (%s): %s", e.rejection.Reason, e.rejection.Suggestion)
}
