// Package config provides configuration types and defaults for obr.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/obr/internal/log"
	"github.com/zjrosen/obr/internal/repository"
	"github.com/zjrosen/obr/internal/tracing"
)

// RepositoryConfig describes one repository document source.
type RepositoryConfig struct {
	Name            string        `mapstructure:"name"`
	URL             string        `mapstructure:"url"`
	Expiration      time.Duration `mapstructure:"expiration"`       // serve the last load for this long without I/O
	RefreshInterval time.Duration `mapstructure:"refresh_interval"` // serve mode polling, 0 disables
	Tolerant        bool          `mapstructure:"tolerant"`         // load failures become warnings
	Watch           bool          `mapstructure:"watch"`            // file sources only
	ReferralDepth   int           `mapstructure:"referral_depth"`
}

// AggregateConfig controls how repositories are combined.
type AggregateConfig struct {
	FailurePolicy string `mapstructure:"failure_policy"` // "propagate" (default) or "skip"
	Concurrency   int    `mapstructure:"concurrency"`    // 0 means unbounded
}

// IndexConfig controls capability indexing.
type IndexConfig struct {
	// Attributes lists the attributes bucketed for equality lookups per
	// namespace. Namespaces not listed use their own name as the key.
	Attributes []IndexAttributesConfig `mapstructure:"attributes"`
	Obligate   bool                    `mapstructure:"obligate"`
}

// IndexAttributesConfig names the indexed attributes of one namespace.
// Namespaces are list entries rather than map keys because viper splits
// and lowercases keys.
type IndexAttributesConfig struct {
	Namespace  string   `mapstructure:"namespace"`
	Attributes []string `mapstructure:"attributes"`
}

// DocumentConfig controls repository document parsing.
type DocumentConfig struct {
	Strict bool `mapstructure:"strict"` // reject unknown elements instead of skipping them
}

// StoreConfig controls the persistent document store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServeConfig holds settings for `obr serve`.
type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config holds all configuration options for obr.
type Config struct {
	Repositories []RepositoryConfig `mapstructure:"repositories"`
	Aggregate    AggregateConfig    `mapstructure:"aggregate"`
	Index        IndexConfig        `mapstructure:"index"`
	Document     DocumentConfig     `mapstructure:"document"`
	Store        StoreConfig        `mapstructure:"store"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
	Serve        ServeConfig        `mapstructure:"serve"`
}

// IsFile reports whether the repository is a local file.
func (r RepositoryConfig) IsFile() bool {
	_, ok := r.FilePath()
	return ok
}

// FilePath returns the local path of a file repository.
func (r RepositoryConfig) FilePath() (string, bool) {
	u, err := url.Parse(r.URL)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return "", false
		case "file":
			return filepath.FromSlash(u.Path), u.Path != ""
		}
	}
	return r.URL, r.URL != ""
}

// Repository returns the repository named name.
func (c Config) Repository(name string) (RepositoryConfig, bool) {
	for _, r := range c.Repositories {
		if r.Name == name {
			return r, true
		}
	}
	return RepositoryConfig{}, false
}

// RepositoryOptions translates the index settings.
func (c Config) RepositoryOptions() []repository.Option {
	opts := []repository.Option{repository.WithObligate(c.Index.Obligate)}
	for _, ia := range c.Index.Attributes {
		opts = append(opts, repository.WithIndexAttributes(ia.Namespace, ia.Attributes...))
	}
	return opts
}

// AggregateOptions translates the aggregate settings. The failure policy
// must already have passed validation.
func (c Config) AggregateOptions() []repository.AggregateOption {
	policy, _ := repository.ParseFailurePolicy(c.Aggregate.FailurePolicy)
	opts := []repository.AggregateOption{repository.WithFailurePolicy(policy)}
	if c.Aggregate.Concurrency > 0 {
		opts = append(opts, repository.WithConcurrency(c.Aggregate.Concurrency))
	}
	return opts
}

// ConfigDir returns ~/.config/obr, or "" when the home directory is
// unavailable.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "obr")
}

// DefaultStorePath returns the default document store location.
func DefaultStorePath() string {
	if dir := ConfigDir(); dir != "" {
		return filepath.Join(dir, "obr.db")
	}
	return ""
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	if dir := ConfigDir(); dir != "" {
		return filepath.Join(dir, "traces", "traces.jsonl")
	}
	return ""
}

// ValidateRepositories checks repository entries for errors.
// Returns nil if the list is empty.
func ValidateRepositories(repos []RepositoryConfig) error {
	seen := make(map[string]bool, len(repos))
	for i, r := range repos {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("repository %d: name is required", i+1)
		}
		if seen[r.Name] {
			return fmt.Errorf("repository %q: duplicate name", r.Name)
		}
		seen[r.Name] = true

		if strings.TrimSpace(r.URL) == "" {
			return fmt.Errorf("repository %q: url is required", r.Name)
		}
		if u, err := url.Parse(r.URL); err == nil && len(u.Scheme) > 1 {
			switch u.Scheme {
			case "http", "https", "file":
			default:
				return fmt.Errorf("repository %q: unsupported url scheme %q", r.Name, u.Scheme)
			}
		}
		switch {
		case r.Expiration < 0:
			return fmt.Errorf("repository %q: expiration must not be negative", r.Name)
		case r.RefreshInterval < 0:
			return fmt.Errorf("repository %q: refresh_interval must not be negative", r.Name)
		case r.ReferralDepth < 0:
			return fmt.Errorf("repository %q: referral_depth must not be negative", r.Name)
		case r.Watch && !r.IsFile():
			return fmt.Errorf("repository %q: watch requires a file repository", r.Name)
		}
	}
	return nil
}

// ValidateAggregate checks aggregate configuration for errors.
func ValidateAggregate(agg AggregateConfig) error {
	if _, err := repository.ParseFailurePolicy(agg.FailurePolicy); err != nil {
		return fmt.Errorf("aggregate.failure_policy: %w", err)
	}
	if agg.Concurrency < 0 {
		return fmt.Errorf("aggregate.concurrency must not be negative, got %d", agg.Concurrency)
	}
	return nil
}

// ValidateIndex checks index configuration for errors.
func ValidateIndex(idx IndexConfig) error {
	seen := make(map[string]bool, len(idx.Attributes))
	for i, ia := range idx.Attributes {
		if strings.TrimSpace(ia.Namespace) == "" {
			return fmt.Errorf("index.attributes[%d]: namespace is required", i)
		}
		if seen[ia.Namespace] {
			return fmt.Errorf("index.attributes[%d]: duplicate namespace %q", i, ia.Namespace)
		}
		seen[ia.Namespace] = true
		for _, a := range ia.Attributes {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("index.attributes[%s]: empty attribute name", ia.Namespace)
			}
		}
	}
	return nil
}

// ValidateStore checks store configuration for errors.
func ValidateStore(store StoreConfig) error {
	if store.Enabled && strings.TrimSpace(store.Path) == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	return nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := ValidateRepositories(c.Repositories); err != nil {
		return err
	}
	if err := ValidateAggregate(c.Aggregate); err != nil {
		return err
	}
	if err := ValidateIndex(c.Index); err != nil {
		return err
	}
	if err := ValidateStore(c.Store); err != nil {
		return err
	}
	return c.Tracing.Validate()
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()
	return Config{
		Aggregate: AggregateConfig{
			FailurePolicy: repository.FailPropagate.String(),
		},
		Index: IndexConfig{
			Obligate: true,
		},
		Document: DocumentConfig{
			Strict: true,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    DefaultStorePath(),
		},
		Tracing: tr,
		Serve: ServeConfig{
			Addr: "127.0.0.1:8420",
		},
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# obr configuration

# Repository documents to index. Queries run against all of them.
repositories: []
#  - name: central
#    url: https://repo.example.com/repository.xml.gz
#    expiration: 10m          # reuse a load for this long without contacting the server
#    refresh_interval: 5m     # how often 'obr serve' reloads (0 disables)
#    tolerant: true           # a failing load yields the last good snapshot
#    referral_depth: 1        # follow <referral> elements this many levels
#
#  - name: local
#    url: ./target/repository.xml
#    watch: true              # reload when the file changes (file repositories only)

# How repositories are combined
aggregate:
  failure_policy: propagate   # propagate (default) or skip
  # concurrency: 4            # parallel repository queries (0 = unbounded)

# Capability indexing
index:
  obligate: true              # hide capabilities whose mandatory attributes a filter does not test
  # attributes:               # equality-indexed attributes per namespace
  #   - namespace: osgi.service
  #     attributes: [objectClass]
  #   - namespace: osgi.wiring.package
  #     attributes: [osgi.wiring.package, bundle-symbolic-name]

# Repository document parsing
document:
  strict: true                # reject unknown elements instead of skipping them

# Persistent copy of fetched documents, used when a source is unreachable
store:
  enabled: false
  # path: ~/.config/obr/obr.db

# Distributed tracing
# tracing:
#   enabled: false            # Enable/disable tracing (default: false)
#   exporter: file            # none, file, stdout, otlp (default: file)
#   file_path: ~/.config/obr/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

# 'obr serve' settings
serve:
  addr: 127.0.0.1:8420
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
