package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/cli"
	"github.com/viktorbezdek/mkb/internal/config"
	"github.com/viktorbezdek/mkb/internal/schema"
)

// doctorResult is one health check's outcome.
type doctorResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass, fail
	Message string `json:"message,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

type doctorReport struct {
	Checks  []doctorResult `json:"checks"`
	Summary struct {
		Total  int `json:"total"`
		Passed int `json:"passed"`
		Failed int `json:"failed"`
	} `json:"summary"`
}

func doctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the vault and index are consistent",
		Long:  "Runs health checks against the current vault: the vault path exists, config parses, schemas load, the index file is present and passes SQLite's integrity check, and the number of files under rejected/ is reported. The index's rows are not compared with the vault's files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func runDoctor(jsonOut bool) error {
	passed, failed := 0, 0
	var results []doctorResult

	check := func(name, hint string, fn func() (string, error)) {
		detail, err := fn()
		if err != nil {
			if jsonOut {
				results = append(results, doctorResult{Name: name, Status: "fail", Message: err.Error(), Hint: hint})
			} else {
				fmt.Printf("  %s✗%s %s: %s\n", cli.Red, cli.Reset, name, err)
				if hint != "" {
					fmt.Printf("    → %s\n", hint)
				}
			}
			failed++
			return
		}
		if jsonOut {
			results = append(results, doctorResult{Name: name, Status: "pass", Message: detail})
		} else if detail != "" {
			fmt.Printf("  %s✓%s %s (%s)\n", cli.Green, cli.Reset, name, detail)
		} else {
			fmt.Printf("  %s✓%s %s\n", cli.Green, cli.Reset, name)
		}
		passed++
	}

	if !jsonOut {
		cli.Header("mkb Health Check")
		fmt.Println()
	}

	var root string
	check("Vault path", "run 'mkb init' here, or pass --vault <path>", func() (string, error) {
		r, err := resolveVaultRoot()
		if err != nil {
			return "", err
		}
		root = r
		return cli.ShortenHome(root), nil
	})
	if root == "" {
		return finishDoctor(jsonOut, results, passed, failed)
	}

	var cfg config.Config
	check("Config file", "check .mkb.toml for syntax errors", func() (string, error) {
		c, err := config.Load(config.ConfigPath(root))
		if err != nil {
			return "", err
		}
		cfg = c
		return "", nil
	})

	check("Schemas", "fix the offending schemas/*.yaml file", func() (string, error) {
		reg, err := schema.LoadSchemas(config.SchemasDir(root))
		if err != nil {
			return "", err
		}
		if err := config.ApplyDecayOverrides(reg, cfg.Decay); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d type(s)", len(reg.Types())), nil
	})

	check("Index opens", "run 'mkb init' to create it, or 'mkb reindex' to rebuild", func() (string, error) {
		if _, err := os.Stat(config.IndexPath(root)); err != nil {
			return "", fmt.Errorf("no index file: %w", err)
		}
		return "", nil
	})

	check("Index integrity", "run 'mkb reindex' to rebuild", func() (string, error) {
		_, idx, _, closeFn, err := openVault(root)
		if err != nil {
			return "", err
		}
		defer closeFn()
		if err := idx.IntegrityCheck(); err != nil {
			return "", err
		}
		return "", nil
	})

	check("Rejected notes", "inspect rejected/ for notes missing a fact timestamp", func() (string, error) {
		entries, err := os.ReadDir(config.RejectedDir(root))
		if err != nil {
			if os.IsNotExist(err) {
				return "none", nil
			}
			return "", err
		}
		if len(entries) == 0 {
			return "none", nil
		}
		return fmt.Sprintf("%d file(s)", len(entries)), nil
	})

	return finishDoctor(jsonOut, results, passed, failed)
}

func finishDoctor(jsonOut bool, results []doctorResult, passed, failed int) error {
	if jsonOut {
		var report doctorReport
		report.Checks = results
		report.Summary.Total = len(results)
		report.Summary.Passed = passed
		report.Summary.Failed = failed
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		cli.Box([]string{fmt.Sprintf("%d passed, %d failed", passed, failed)})
		cli.Footer()
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
