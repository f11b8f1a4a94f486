// Package config loads the engine's YAML configuration, following the
// split this module's teacher uses: a root Config struct, defaulting via
// applyDefaults, and a validate pass before anything touches the wire.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PreparedCacheKind selects one of the three prepared-statement cache
// variants.
type PreparedCacheKind string

const (
	PreparedCacheUnbounded PreparedCacheKind = "unbounded"
	PreparedCacheNone      PreparedCacheKind = "none"
	PreparedCacheLRU       PreparedCacheKind = "lru"
)

// EngineConfig holds the options the engine recognizes (spec §6):
// fetchSize, preparedStatementCache, statementTimeout, lockWaitTimeout,
// plus the identifier sanitization length cap.
type EngineConfig struct {
	FetchSize              int               `yaml:"fetchSize"`
	PreparedStatementCache PreparedCacheKind `yaml:"preparedStatementCache"`
	PreparedCacheCapacity  int               `yaml:"preparedCacheCapacity"`
	StatementTimeout       time.Duration     `yaml:"statementTimeout"`
	LockWaitTimeout        time.Duration     `yaml:"lockWaitTimeout"`
	IdentifierMaxLength    int               `yaml:"identifierMaxLength"`
}

// Config is the root configuration document.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
}

// Load reads and parses the YAML config at path, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.FetchSize == 0 {
		c.Engine.FetchSize = 128
	}
	if c.Engine.PreparedStatementCache == "" {
		c.Engine.PreparedStatementCache = PreparedCacheUnbounded
	}
	if c.Engine.PreparedStatementCache == PreparedCacheLRU && c.Engine.PreparedCacheCapacity == 0 {
		c.Engine.PreparedCacheCapacity = 100
	}
	if c.Engine.StatementTimeout == 0 {
		c.Engine.StatementTimeout = 30 * time.Second
	}
	if c.Engine.LockWaitTimeout == 0 {
		c.Engine.LockWaitTimeout = -1 // Negative means infinite, per spec §6.
	}
	if c.Engine.IdentifierMaxLength == 0 {
		c.Engine.IdentifierMaxLength = 128
	}
}

func (c *Config) validate() error {
	if c.Engine.FetchSize < 0 {
		return fmt.Errorf("engine.fetchSize must be >= 0, got %d", c.Engine.FetchSize)
	}
	switch c.Engine.PreparedStatementCache {
	case PreparedCacheUnbounded, PreparedCacheNone, PreparedCacheLRU:
	default:
		return fmt.Errorf("engine.preparedStatementCache must be one of none|unbounded|lru, got %q", c.Engine.PreparedStatementCache)
	}
	if c.Engine.PreparedStatementCache == PreparedCacheLRU && c.Engine.PreparedCacheCapacity <= 0 {
		return fmt.Errorf("engine.preparedCacheCapacity must be > 0 for lru cache, got %d", c.Engine.PreparedCacheCapacity)
	}
	if c.Engine.IdentifierMaxLength <= 0 {
		return fmt.Errorf("engine.identifierMaxLength must be > 0, got %d", c.Engine.IdentifierMaxLength)
	}
	return nil
}

// UsesCursor reports whether fetchSize routes queries through
// sp_cursoropen/prepexec/execute rather than sp_executesql directly
// (spec §8 boundary: fetchSize=0 always uses sp_executesql).
func (c *EngineConfig) UsesCursor() bool {
	return c.FetchSize > 0
}
