package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/viktorbezdek/mkb/internal/core"
	"github.com/viktorbezdek/mkb/internal/gate"
	"github.com/viktorbezdek/mkb/internal/index"
	"github.com/viktorbezdek/mkb/internal/mkql"
	"github.com/viktorbezdek/mkb/internal/schema"
	"github.com/viktorbezdek/mkb/internal/vault"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the vault for changes and incrementally reindex",
		Long:  "Monitors <type>/*.md for create/modify/delete events (coalesced within a debounce window, spec.md §4.4) and re-admits or removes the affected document without a full rebuild.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch()
		},
	}
}

func runWatch() error {
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

	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		close(stop)
	}()

	events, errs := v.Watch(stop)
	fmt.Printf("  watching %s for changes (ctrl-c to stop)\n", root)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			handleWatchEvent(idx, reg, rejects, root, ev)
		case werr, ok := <-errs:
			if !ok {
				return nil
			}
			if werr != nil {
				return &mkql.RuntimeError{Kind: "runtime", Err: werr}
			}
		case <-stop:
			return nil
		}
	}
}

// handleWatchEvent re-admits a single changed file or removes its index
// row, avoiding the full-vault cost of reindex for a one-file edit.
// Errors are logged, not returned: one bad file must not kill the
// watch loop (mirrors the teacher's watcher.go "log and continue").
func handleWatchEvent(idx *index.Index, reg *schema.Registry, rejects *gate.RejectionLog, root string, ev vault.Event) {
	now := time.Now()
	absPath := filepath.Join(root, ev.Path)

	if ev.Kind == vault.Deleted {
		if err := idx.DeleteByPath(ev.Path); err != nil {
			fmt.Fprintf(os.Stderr, "  [WARN] remove %s from index: %v\n", ev.Path, err)
		}
		fmt.Printf("  %s %s\n", ev.Kind, ev.Path)
		return
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [WARN] read %s: %v\n", ev.Path, err)
		return
	}
	doc, err := core.ParseFrontmatter(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [WARN] parse %s: %v\n", ev.Path, err)
		return
	}
	if info, statErr := os.Stat(absPath); statErr == nil {
		doc.ModifiedAt = info.ModTime()
		anchor := info.ModTime()
		outcome := gate.Admit(gate.Candidate{Doc: doc, MetadataAnchor: &anchor}, reg, now)
		if !outcome.Admitted() {
			if rejects != nil {
				_ = rejects.Record(ev.Path, data, outcome.Rejection, now)
			}
			fmt.Printf("  rejected %s: %s\n", ev.Path, outcome.Rejection.Reason)
			return
		}
		if err := idx.Ingest(outcome.Doc, ev.Path, reg); err != nil {
			fmt.Fprintf(os.Stderr, "  [WARN] ingest %s: %v\n", ev.Path, err)
			return
		}
	}
	fmt.Printf("  %s %s\n", ev.Kind, ev.Path)
}
