package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/cli"
	"github.com/viktorbezdek/mkb/internal/config"
	"github.com/viktorbezdek/mkb/internal/index"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set up a vault in the current directory (start here)",
		Long: `Creates the .mkb/ dotfolder (configuration and index), the
rejected/ and archive/ directories at the vault root (not under .mkb/),
and a schemas/ directory seeded with the built-in document types, in
the current working directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := vaultOverride
			if root == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("determine working directory: %w", err)
				}
				root = cwd
			}
			return runInit(root)
		},
	}
	return cmd
}

func runInit(root string) error {
	cli.Banner(Version)

	if existing := config.DetectVaultRoot(root); existing != "" {
		return userError(fmt.Sprintf("vault already initialised at %s", cli.ShortenHome(existing)), "")
	}

	dataDir := config.DataDir(root)
	for _, dir := range []string{
		dataDir,
		filepath.Join(dataDir, "index"),
		filepath.Join(root, "rejected"),
		filepath.Join(root, "archive"),
		config.SchemasDir(root),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := writeDefaultSchemas(config.SchemasDir(root)); err != nil {
		return fmt.Errorf("seed schemas: %w", err)
	}

	if err := os.WriteFile(config.ConfigPath(root), []byte(defaultConfigTOML), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	cfg, err := config.Load(config.ConfigPath(root))
	if err != nil {
		return err
	}
	idx, err := index.Open(config.IndexPath(root), cfg.Embedding.Dimensions)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer idx.Close()

	fmt.Printf("\n  %s✓%s Vault initialised at %s\n", cli.Green, cli.Reset, cli.ShortenHome(root))
	fmt.Println("\n  Next steps:")
	fmt.Println("    1. Add notes under <type>/ directories, or let schemas/ guide you")
	fmt.Println("    2. mkb reindex     — build the query index")
	fmt.Println("    3. mkb query 'SELECT * FROM *'")
	cli.Footer()
	return nil
}

// defaultConfigTOML seeds .mkb.toml with every recognised section
// commented for discoverability (spec.md §6).
const defaultConfigTOML = `# mkb configuration — see schemas/ for document types.

[vault]
# root = "."

[index]
max_intermediate_rows = 5000

[embedding]
dimensions = 256

[gc]
interval_minutes = 60

# [decay.profiles.project]
# half_life = "14d"
# hard_expiry = "60d"
`

// writeDefaultSchemas seeds the built-in document types named in
// gate.DefaultProfiles, so a fresh vault can admit documents without
// the user first hand-writing schema files.
func writeDefaultSchemas(dir string) error {
	schemas := map[string]string{
		"project": `name: project
fields:
  status:
    type: enum
    enum_values: [active, paused, done]
  priority:
    type: integer
decay:
  half_life: 14d
  hard_expiry: 60d
`,
		"signal": `name: signal
fields:
  summary:
    type: string
decay:
  half_life: 7d
  hard_expiry: 30d
`,
		"decision": `name: decision
fields:
  rationale:
    type: string
`,
		"meeting": `name: meeting
fields:
  attendees:
    type: string[]
`,
		"person": `name: person
fields:
  role:
    type: string
decay:
  half_life: 180d
  hard_expiry: 365d
`,
		"concept": `name: concept
fields:
  definition:
    type: string
decay:
  half_life: 365d
`,
	}
	for name, body := range schemas {
		path := filepath.Join(dir, name+".yaml")
		if _, err := os.Stat(path); err == nil {
			continue // don't clobber a user's edits on re-init
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}
