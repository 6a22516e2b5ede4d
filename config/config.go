// Package config loads linkdedup settings from built-in defaults, a TOML
// file, LINKDEDUP_* environment variables and command line overrides, in
// that order of precedence.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/luinbytes/linkdedup/dedup"
)

//go:embed embedded/defaults.toml
var defaultConfig []byte

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LINKDEDUP_"

	// LocalFile is looked up in the working directory.
	LocalFile = ".linkdedup.toml"

	// UserFile is looked up under the XDG config directories.
	UserFile = "linkdedup/config.toml"
)

// Config holds every setting of the command line program.
type Config struct {
	Roots   []string      `koanf:"roots"`
	Scan    ScanConfig    `koanf:"scan"`
	Merge   MergeConfig   `koanf:"merge"`
	Watch   WatchConfig   `koanf:"watch"`
	Journal JournalConfig `koanf:"journal"`
	Log     LogConfig     `koanf:"log"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// ScanConfig controls walking and hashing.
type ScanConfig struct {
	Algorithm       string   `koanf:"algorithm"`
	ChunkSize       int      `koanf:"chunk_size"`
	Workers         int      `koanf:"workers"`
	Recursive       bool     `koanf:"recursive"`
	SkipHidden      bool     `koanf:"skip_hidden"`
	ExcludePrefixes []string `koanf:"exclude_prefixes"`
	MinSize         int64    `koanf:"min_size"`
	MaxSize         int64    `koanf:"max_size"`
	Pattern         string   `koanf:"pattern"`
}

// MergeConfig controls master selection and consolidation.
type MergeConfig struct {
	Keep     string `koanf:"keep"`
	Strategy string `koanf:"strategy"`
	Rehash   bool   `koanf:"rehash"`
	DryRun   bool   `koanf:"dry_run"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Debounce  time.Duration `koanf:"debounce"`
	AutoMerge bool          `koanf:"auto_merge"`
}

// JournalConfig controls the merge journal. An empty path selects the XDG
// state directory.
type JournalConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// LogConfig controls the log file written next to the journal.
type LogConfig struct {
	File bool `koanf:"file"`
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// File is an explicit config file; it must exist.
	File string

	// Dir is searched for LocalFile; empty means the working directory.
	Dir string

	// Overrides are dotted keys (e.g. "merge.keep") applied last, typically
	// from flags the user set explicitly.
	Overrides map[string]interface{}
}

type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

// Load builds the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	// 1. Embedded defaults
	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"scan.workers": runtime.NumCPU(),
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load runtime defaults: %w", err)
	}

	// 2. Config file
	path, err := findConfigFile(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Explicit overrides
	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.File = path

	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("invalid configuration (%s): %w", path, err)
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey maps LINKDEDUP_MERGE__DRY_RUN to merge.dry_run.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func findConfigFile(opts LoadOptions) (string, error) {
	if opts.File != "" {
		if _, err := os.Stat(opts.File); err != nil {
			return "", fmt.Errorf("config file %s: %w", opts.File, err)
		}
		return opts.File, nil
	}

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	local := filepath.Join(dir, LocalFile)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	if path, err := xdg.SearchConfigFile(UserFile); err == nil {
		return path, nil
	}
	return "", nil
}

// Validate rejects settings the scanner or the consolidator would refuse.
func (c *Config) Validate() error {
	var errs []error
	if _, err := dedup.ParseAlgorithm(c.Scan.Algorithm); err != nil {
		errs = append(errs, err)
	}
	if c.Scan.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("scan.chunk_size must be positive, got %d", c.Scan.ChunkSize))
	}
	if c.Scan.Workers < 1 {
		errs = append(errs, fmt.Errorf("scan.workers must be at least 1, got %d", c.Scan.Workers))
	}
	if c.Scan.MinSize < 0 || c.Scan.MaxSize < 0 {
		errs = append(errs, errors.New("scan.min_size and scan.max_size must not be negative"))
	}
	if c.Scan.Pattern != "" {
		if _, err := filepath.Match(c.Scan.Pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("scan.pattern %q: %w", c.Scan.Pattern, err))
		}
	}
	if _, err := dedup.ParseKeepPolicy(c.Merge.Keep); err != nil {
		errs = append(errs, err)
	}
	if _, err := dedup.ParseStrategy(c.Merge.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	return errors.Join(errs...)
}

// WalkOptions converts the scan settings for dedup.NewWalker.
func (c *Config) WalkOptions() dedup.WalkOptions {
	return dedup.WalkOptions{
		Recursive:       c.Scan.Recursive,
		SkipHidden:      c.Scan.SkipHidden,
		ExcludePrefixes: append([]string(nil), c.Scan.ExcludePrefixes...),
		MinSize:         c.Scan.MinSize,
		MaxSize:         c.Scan.MaxSize,
		Pattern:         c.Scan.Pattern,
	}
}

// HasherOptions converts the scan settings for dedup.NewHasher.
func (c *Config) HasherOptions() []dedup.HasherOption {
	return []dedup.HasherOption{
		dedup.WithAlgorithm(dedup.Algorithm(c.Scan.Algorithm)),
		dedup.WithChunkSize(c.Scan.ChunkSize),
	}
}

// KeepPolicy returns the validated keep policy.
func (c *Config) KeepPolicy() dedup.KeepPolicy {
	p, _ := dedup.ParseKeepPolicy(c.Merge.Keep)
	return p
}

// Strategy returns the validated merge strategy.
func (c *Config) Strategy() dedup.Strategy {
	s, _ := dedup.ParseStrategy(c.Merge.Strategy)
	return s
}

// JournalPath returns where merge runs are recorded.
func (c *Config) JournalPath() (string, error) {
	if c.Journal.Path != "" {
		return c.Journal.Path, nil
	}
	return xdg.StateFile("linkdedup/journal.jsonl")
}
