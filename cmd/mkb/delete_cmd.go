package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/mkql"
	"github.com/viktorbezdek/mkb/internal/vault"
)

func deleteCmd() *cobra.Command {
	var hard bool
	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Remove a document from the vault",
		Long: `Soft-deletes (archives) or, with --hard, permanently removes the
document at the given vault-relative path, then removes the
corresponding index rows (spec.md §4.4). Both modes remove the rows; a
soft delete leaves no tombstone row in the index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(args[0], hard)
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "Remove the file outright, instead of moving it under archive/")
	return cmd
}

func runDelete(relPath string, hard bool) error {
	root, err := resolveVaultRoot()
	if err != nil {
		return err
	}

	reg, idx, rejects, closeFn, err := openVault(root)
	if err != nil {
		return err
	}
	defer closeFn()

	v := vault.New(root, reg)
	v.Rejects = rejects

	mode := vault.DeleteSoft
	if hard {
		mode = vault.DeleteHard
	}
	if err := v.Delete(relPath, mode); err != nil {
		return &mkql.RuntimeError{Kind: "runtime", Err: fmt.Errorf("delete %s: %w", relPath, err)}
	}
	if err := idx.DeleteByPath(relPath); err != nil {
		return &mkql.RuntimeError{Kind: "runtime", Err: fmt.Errorf("remove %s from index: %w", relPath, err)}
	}

	fmt.Printf("  deleted %s\n", relPath)
	return nil
}
