package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RejectionEntry is one line of _rejection_log.jsonl (spec.md §6).
type RejectionEntry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Source     string          `json:"source"`
	Reason     RejectionReason `json:"reason"`
	Attempts   []string        `json:"attempts"`
	Suggestion string          `json:"suggestion"`
	Recovered  bool            `json:"recovered,omitempty"`
}

// RejectionLog persists rejected documents so they are never silently
// dropped: a payload file under rejected/ plus an append to
// _rejection_log.jsonl. Concurrent appenders serialise through mu,
// matching the vault's "rejection log is append-only; concurrent
// appenders serialise through a mutex" concurrency note (§6.3).
type RejectionLog struct {
	mu      sync.Mutex
	dir     string // vault root
	payload string // rejected/ subdirectory
	logPath string // _rejection_log.jsonl
}

// NewRejectionLog opens a rejection log rooted at vaultDir. It does not
// create directories eagerly; Record creates them lazily on first use.
func NewRejectionLog(vaultDir string) *RejectionLog {
	return &RejectionLog{
		dir:     vaultDir,
		payload: filepath.Join(vaultDir, "rejected"),
		logPath: filepath.Join(vaultDir, "_rejection_log.jsonl"),
	}
}

// Record writes the original payload verbatim under rejected/ and
// appends one JSON line to _rejection_log.jsonl. source identifies the
// originating path or logical id for the log entry.
func (l *RejectionLog) Record(source string, payload []byte, rej *Rejected, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.payload, 0o755); err != nil {
		return fmt.Errorf("create rejected/ dir: %w", err)
	}
	name := fmt.Sprintf("%d-%s.md", now.UnixNano(), sanitizeName(source))
	if err := os.WriteFile(filepath.Join(l.payload, name), payload, 0o644); err != nil {
		return fmt.Errorf("write rejection payload: %w", err)
	}

	entry := RejectionEntry{
		Timestamp: now, Source: source, Reason: rej.Reason,
		Attempts: rej.Attempts, Suggestion: rej.Suggestion,
	}
	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open rejection log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal rejection entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append rejection log: %w", err)
	}
	return nil
}

func sanitizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
