package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/config"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/index"
	"github.com/viktorbezdek/mkb/internal/mkql"
	"github.com/viktorbezdek/mkb/internal/schema"
)

func reindexCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Scan the vault and rebuild the query index",
		Long:  "Walks every <type>/*.md file, re-admits it through the Temporal Gate, and rebuilds the index from scratch (rebuild(vault) is equivalent to replaying every admission event).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output stats as JSON")
	return cmd
}

func runReindex(jsonOut bool) error {
	root, err := resolveVaultRoot()
	if err != nil {
		return err
	}

	reg, idx, rejects, closeFn, err := openVault(root)
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := index.Rebuild(idx, root, reg, rejects, time.Now())
	if err != nil {
		return &mkql.RuntimeError{Kind: "runtime", Err: fmt.Errorf("rebuild: %w", err)}
	}

	if jsonOut {
		data, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("  scanned:  %d\n", stats.Scanned)
	fmt.Printf("  admitted: %d\n", stats.Admitted)
	fmt.Printf("  rejected: %d\n", stats.Rejected)
	for _, e := range stats.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	return nil
}

// openVault loads the schema registry, the sqlite index, and the
// rejection log for root, returning a single cleanup func. Shared by
// every subcommand that needs a working vault.
func openVault(root string) (*schema.Registry, *index.Index, *gate.RejectionLog, func(), error) {
	cfg, err := config.Load(config.ConfigPath(root))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	reg, err := schema.LoadSchemas(config.SchemasDir(root))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load schemas: %w", err)
	}
	if err := config.ApplyDecayOverrides(reg, cfg.Decay); err != nil {
		return nil, nil, nil, nil, err
	}

	idx, err := index.Open(config.IndexPath(root), cfg.Embedding.Dimensions)
	if err != nil {
		return nil, nil, nil, nil, &mkql.RuntimeError{Kind: "index_unavailable", Err: fmt.Errorf("open index: %w", err)}
	}

	rejects := gate.NewRejectionLog(root)
	return reg, idx, rejects, func() { idx.Close() }, nil
}
