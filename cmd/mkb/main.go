// Command mkb is the CLI surface over the mkb core: a markdown vault
// with temporal admission, a dynamic schema registry, and MKQL queries
// (spec.md §6). Grounded on the teacher's cmd/same/main.go: a single
// cobra root command, a persistent --vault flag, and a top-level
// Execute/os.Exit wrapper — generalised to map errors onto mkb's own
// exit-code taxonomy instead of a single blanket exit(1).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/config"
	"github.com/viktorbezdek/mkb/internal/mkql"
)

// Version is set at build time via ldflags.
var Version = "dev"

// vaultOverride backs the persistent --vault flag.
var vaultOverride string

func main() {
	root := &cobra.Command{
		Use:   "mkb",
		Short: "A temporal, schema-validated knowledge base for markdown notes",
		Long: `mkb stores markdown notes with explicit fact timestamps, validates
them against a dynamic schema registry, decays their confidence over
time, and answers MKQL queries over the result.

Quick start:
  mkb init      Set up a vault in the current directory
  mkb create    Admit a markdown file into the vault
  mkb reindex   Scan the vault and (re)build the query index
  mkb query     Run an MKQL SELECT against the vault
  mkb doctor    Check the vault and index are consistent`,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}
	root.PersistentFlags().StringVar(&vaultOverride, "vault", "", "Vault root (overrides auto-detect from cwd)")

	root.AddCommand(initCmd())
	root.AddCommand(createCmd())
	root.AddCommand(updateCmd())
	root.AddCommand(deleteCmd())
	root.AddCommand(reindexCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	err := root.Execute()
	os.Exit(exitCode(err))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mkb version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("mkb %s\n", Version)
			return nil
		},
	}
}

// resolveVaultRoot applies --vault, then auto-detection, and errors with
// a user-actionable message if neither finds a vault.
func resolveVaultRoot() (string, error) {
	if vaultOverride != "" {
		return vaultOverride, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	if root := config.DetectVaultRoot(cwd); root != "" {
		return root, nil
	}
	return "", userError("no vault found", "run 'mkb init' here, or pass --vault <path>")
}

// exitCode maps an error returned from root.Execute() onto the exit
// codes spec.md §6 defines for the CLI surface wrapping this core: 0
// success, 2 user error, 3 query runtime error, 4 temporal rejection,
// 5 index unavailable, 6 cancelled.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var uerr *userErr
	var rerr *mkql.RuntimeError
	var perr *mkql.ParseError
	var terr *mkql.TypeError
	var cerr *mkql.CompileError
	var trerr *temporalRejectionErr
	switch {
	case errors.As(err, &uerr):
		return 2
	case errors.As(err, &perr), errors.As(err, &terr), errors.As(err, &cerr):
		return 2
	case errors.As(err, &trerr):
		return 4
	case errors.As(err, &rerr):
		if rerr.Kind == "index_unavailable" {
			return 5
		}
		return 3
	case errors.Is(err, context.Canceled):
		return 6
	default:
		return 1
	}
}

// userErr marks an error as a user-facing mistake (bad flags, missing
// vault) rather than an internal failure, for exit-code mapping.
type userErr struct {
	msg  string
	hint string
}

func (e *userErr) Error() string {
	if e.hint != "" {
		return fmt.Sprintf("%s (%s)", e.msg, e.hint)
	}
	return e.msg
}

func userError(msg, hint string) error { return &userErr{msg: msg, hint: hint} }
