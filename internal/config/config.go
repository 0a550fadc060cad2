// Package config loads mkb's typed configuration: .mkb/.mkb.toml
// overlaid onto built-in defaults (spec.md §6, "a typed mapping with
// sections [vault], [index], [decay.profiles.<type>], [embedding],
// [gc]"). Environment variables and CLI flags are not read here.
// Grounded on the teacher's own config.go, which reads a single TOML
// file under the project's dotfolder; unknown sections there are
// warnings, not load failures, per the same rule stated in §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/viktorbezdek/mkb/internal/schema"
)

// DirName is the dotfolder every vault carries at its root.
const DirName = ".mkb"

// ConfigFile is the dotfolder's configuration file name.
const ConfigFile = DirName + ".toml"

// VaultConfig is the `[vault]` section.
type VaultConfig struct {
	Root string `toml:"root"` // absolute path; "" means auto-detect from cwd
}

// IndexConfig is the `[index]` section.
type IndexConfig struct {
	MaxIntermediateRows int `toml:"max_intermediate_rows"`
}

// DecayProfileConfig is one `[decay.profiles.<type>]` entry, overriding
// the built-in gate.DefaultProfiles for that document type.
type DecayProfileConfig struct {
	HalfLife   string `toml:"half_life"`
	HardExpiry string `toml:"hard_expiry"`
}

// EmbeddingConfig is the `[embedding]` section. mkb ships a deterministic
// mock embedder (internal/mkql.MockEmbedder) for dependency-free
// operation; Dimensions sizes it and any future real provider alike.
type EmbeddingConfig struct {
	Dimensions int `toml:"dimensions"`
}

// GCConfig is the `[gc]` section: sweep cadence for stale/expired
// documents (internal/index.Index.SweepStale).
type GCConfig struct {
	IntervalMinutes int `toml:"interval_minutes"`
}

// Config is the fully-resolved typed mapping described in spec.md §6.
type Config struct {
	Vault     VaultConfig
	Index     IndexConfig
	Decay     map[string]DecayProfileConfig // flattened from [decay.profiles.<type>]
	Embedding EmbeddingConfig
	GC        GCConfig
}

// Defaults returns the built-in configuration used when no .mkb.toml is
// present, or to fill in fields a partial file omits.
func Defaults() Config {
	return Config{
		Index:     IndexConfig{MaxIntermediateRows: 5000},
		Embedding: EmbeddingConfig{Dimensions: 256},
		GC:        GCConfig{IntervalMinutes: 60},
	}
}

// rawConfig mirrors the on-disk TOML shape, where decay profiles nest
// under [decay.profiles.<type>] rather than the flattened map Config
// exposes to callers.
type rawConfig struct {
	Vault VaultConfig `toml:"vault"`
	Index IndexConfig `toml:"index"`
	Decay struct {
		Profiles map[string]DecayProfileConfig `toml:"profiles"`
	} `toml:"decay"`
	Embedding EmbeddingConfig `toml:"embedding"`
	GC        GCConfig        `toml:"gc"`
}

// Load reads path (a .mkb.toml file) and overlays it onto Defaults().
// A missing file is not an error: it simply yields the defaults, since
// `mkb init` may not have written one yet.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if raw.Vault.Root != "" {
		cfg.Vault.Root = raw.Vault.Root
	}
	if raw.Index.MaxIntermediateRows > 0 {
		cfg.Index.MaxIntermediateRows = raw.Index.MaxIntermediateRows
	}
	if raw.Embedding.Dimensions > 0 {
		cfg.Embedding.Dimensions = raw.Embedding.Dimensions
	}
	if raw.GC.IntervalMinutes > 0 {
		cfg.GC.IntervalMinutes = raw.GC.IntervalMinutes
	}
	if len(raw.Decay.Profiles) > 0 {
		cfg.Decay = raw.Decay.Profiles
	}

	// Every recognised section is enumerated above; anything left over
	// in meta.Undecoded is an unknown section and is a warning, not a
	// load failure (§6).
	for _, key := range meta.Undecoded() {
		fmt.Fprintf(os.Stderr, "warning: unknown config key %q in %s\n", key.String(), path)
	}

	return cfg, nil
}

// ApplyDecayOverrides merges a Config's [decay.profiles.<type>] entries
// into the registry's per-schema decay blocks, for types whose own
// schema file left the decay block unset. Schema-declared decay always
// wins over config-file overrides, which in turn win over
// gate.DefaultProfiles.
func ApplyDecayOverrides(reg *schema.Registry, decay map[string]DecayProfileConfig) error {
	for typeName, dc := range decay {
		s, ok := reg.Get(typeName)
		if !ok {
			continue
		}
		if s.Decay.HalfLife.Duration != 0 || s.Decay.HardExpiry.Duration != 0 {
			continue // schema's own declaration takes precedence
		}
		if dc.HalfLife != "" {
			d, err := schema.ParseDuration(dc.HalfLife)
			if err != nil {
				return fmt.Errorf("decay.profiles.%s.half_life: %w", typeName, err)
			}
			s.Decay.HalfLife = d
		}
		if dc.HardExpiry != "" {
			d, err := schema.ParseDuration(dc.HardExpiry)
			if err != nil {
				return fmt.Errorf("decay.profiles.%s.hard_expiry: %w", typeName, err)
			}
			s.Decay.HardExpiry = d
		}
	}
	return nil
}

// DetectVaultRoot walks upward from start looking for a .mkb directory,
// mirroring the teacher's auto-detect-from-cwd convention. Returns "" if
// none is found before reaching the filesystem root.
func DetectVaultRoot(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// GCInterval returns the GC sweep cadence as a time.Duration.
func (c Config) GCInterval() time.Duration {
	return time.Duration(c.GC.IntervalMinutes) * time.Minute
}

// ConfigPath returns the .mkb.toml path for a vault rooted at root.
func ConfigPath(root string) string {
	return filepath.Join(root, DirName, ConfigFile)
}

// DataDir returns the .mkb directory for a vault rooted at root.
func DataDir(root string) string {
	return filepath.Join(root, DirName)
}

// IndexPath returns the sqlite index file path for a vault rooted at root.
func IndexPath(root string) string {
	return filepath.Join(DataDir(root), "index", "mkb.db")
}

// SchemasDir returns the schema definitions directory for a vault rooted at root.
func SchemasDir(root string) string {
	return filepath.Join(root, "schemas")
}

// RejectedDir returns the directory holding rejected-admission payloads
// for a vault rooted at root (internal/gate.RejectionLog).
func RejectedDir(root string) string {
	return filepath.Join(root, "rejected")
}
