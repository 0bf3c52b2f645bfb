package cachedpath

import (
	"os"
	"path/filepath"
	"time"

	"github.com/krajole/cachedpath/cachedpath/progress"
	"github.com/pkg/errors"
)

const (
	envCacheRoot      = "RUST_CACHED_PATH_ROOT"
	defaultMaxRetries = 3
	defaultMaxBackoff = 5000 * time.Millisecond
)

// Config is the immutable set of settings a Cache is constructed with
// (spec.md §4.9, C9). It is assembled by ConfigBuilder. Its fields are
// exported, but New copies the Config, so changes made to it after a
// Cache is constructed do not affect that Cache.
type Config struct {
	Dir               string
	MaxRetries        uint32
	MaxBackoff        time.Duration
	FreshnessLifetime *uint64
	Offline           bool
	Timeout           time.Duration
	ConnectTimeout    time.Duration
	ProgressBar       progress.Kind
}

// ConfigBuilder builds a Config, validating and defaulting fields the
// way mirror.NewConfig seeds MaxConns before a Config is used.
type ConfigBuilder struct {
	cfg Config
	err error
}

// NewConfigBuilder returns a builder seeded with the spec's defaults:
// max_retries=3, max_backoff=5000ms, no freshness lifetime (always
// revalidate), online, Full progress bar, and a cache dir taken from
// RUST_CACHED_PATH_ROOT or the system temp directory.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: Config{
			MaxRetries:  defaultMaxRetries,
			MaxBackoff:  defaultMaxBackoff,
			ProgressBar: progress.Full,
		},
	}
}

// Dir sets the cache root directory explicitly, overriding the
// environment variable default.
func (b *ConfigBuilder) Dir(dir string) *ConfigBuilder {
	b.cfg.Dir = dir
	return b
}

// MaxRetries sets the maximum number of HTTP retries.
func (b *ConfigBuilder) MaxRetries(n uint32) *ConfigBuilder {
	b.cfg.MaxRetries = n
	return b
}

// MaxBackoff sets the maximum backoff delay between retries.
func (b *ConfigBuilder) MaxBackoff(d time.Duration) *ConfigBuilder {
	b.cfg.MaxBackoff = d
	return b
}

// FreshnessLifetime sets the default freshness lifetime, in seconds.
func (b *ConfigBuilder) FreshnessLifetime(seconds uint64) *ConfigBuilder {
	b.cfg.FreshnessLifetime = &seconds
	return b
}

// Offline enables or disables offline mode.
func (b *ConfigBuilder) Offline(offline bool) *ConfigBuilder {
	b.cfg.Offline = offline
	return b
}

// Timeout sets the per-request timeout applied to the HTTP transport.
func (b *ConfigBuilder) Timeout(d time.Duration) *ConfigBuilder {
	b.cfg.Timeout = d
	return b
}

// ConnectTimeout sets the connect-phase timeout applied to the HTTP
// transport.
func (b *ConfigBuilder) ConnectTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.ConnectTimeout = d
	return b
}

// ProgressBar sets which progress hook implementation the cache uses.
func (b *ConfigBuilder) ProgressBar(kind progress.Kind) *ConfigBuilder {
	b.cfg.ProgressBar = kind
	return b
}

// Build validates and freezes the Config, creating the cache directory
// if it does not already exist.
func (b *ConfigBuilder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}

	cfg := b.cfg
	if cfg.Dir == "" {
		if envDir := os.Getenv(envCacheRoot); envDir != "" {
			cfg.Dir = envDir
		} else {
			cfg.Dir = filepath.Join(os.TempDir(), "cache")
		}
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "cachedpath: create cache dir")
	}

	return &cfg, nil
}
