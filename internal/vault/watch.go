package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind distinguishes the three change-event variants `watch()`
// exposes (spec.md 4.4).
type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "Created"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Event is one coalesced change notification from Watch.
type Event struct {
	Kind EventKind
	Path string // vault-relative
}

// skipDirs are directories Watch never descends into or reports events
// from; mirrors the teacher's config.SkipDirs convention.
var skipDirs = map[string]bool{
	".git": true, "archive": true, "rejected": true, ".mkb": true,
}

// debounceWindow is the short coalescing window change events are
// batched within before being emitted (4.4: "events are coalesced
// within a short debouncing window").
const debounceWindow = 500 * time.Millisecond

// Watch starts an fsnotify watch over the vault root and sends coalesced
// Created/Modified/Deleted events to the returned channel until stop is
// closed. Grounded on the teacher's internal/watcher/watcher.go Watch,
// generalised from a single flat reindex callback to a typed event
// channel the Index and CLI `watch` subcommand can both consume.
func (v *Vault) Watch(stop <-chan struct{}) (<-chan Event, <-chan error) {
	events := make(chan Event, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		w, err := fsnotify.NewWatcher()
		if err != nil {
			errs <- fmt.Errorf("create watcher: %w", err)
			return
		}
		defer w.Close()

		for _, dir := range walkDirs(v.Root) {
			if err := w.Add(dir); err != nil {
				fmt.Fprintf(os.Stderr, "  [WARN] could not watch %s: %v\n", dir, err)
			}
		}

		var (
			mu      sync.Mutex
			pending = make(map[string]EventKind)
			timer   *time.Timer
		)

		flush := func() {
			mu.Lock()
			batch := pending
			pending = make(map[string]EventKind)
			mu.Unlock()
			for path, kind := range batch {
				rel, relErr := filepath.Rel(v.Root, path)
				if relErr != nil {
					rel = path
				}
				events <- Event{Kind: kind, Path: rel}
			}
		}

		for {
			select {
			case <-stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".md") {
					if ev.Has(fsnotify.Create) {
						if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
							if !skipDirs[filepath.Base(ev.Name)] {
								_ = w.Add(ev.Name)
							}
						}
					}
					continue
				}

				var kind EventKind
				switch {
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					kind = Deleted
				case ev.Has(fsnotify.Create):
					kind = Created
				case ev.Has(fsnotify.Write):
					kind = Modified
				default:
					continue
				}

				mu.Lock()
				pending[ev.Name] = kind
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceWindow, flush)
				mu.Unlock()

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "  [WARN] watch error: %v\n", err)
			}
		}
	}()

	return events, errs
}

func walkDirs(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}
