// Package config defines the full configuration surface of the prefetch
// daemon, following the teacher's struct-per-concern layout and
// DefaultConfig() constructor, serialized with TOML instead of the
// teacher's YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ModelConfig is the `[model]` section: prediction and aging parameters.
type ModelConfig struct {
	// CycleSeconds is the tick interval.
	CycleSeconds int `toml:"cycle"`
	// UseCorrelation enables the correlation-coefficient dampening term
	// in Predictor.
	UseCorrelation bool `toml:"use_correlation"`
	// MinSizeBytes is AdmissionPolicy's minimum total-mapped-bytes
	// threshold.
	MinSizeBytes int64 `toml:"minsize"`
	// ActiveWindowSeconds bounds how long an exe stays in ActiveSet
	// after it was last observed running.
	ActiveWindowSeconds int `toml:"active_window"`
	// HalfLifeSeconds, if set, overrides Decay: alpha is derived as
	// 1 - 2^(-dt/half_life).
	HalfLifeSeconds *int `toml:"half_life"`
	// Decay is the smoothing factor used directly as alpha when
	// HalfLifeSeconds is unset.
	Decay *float64 `toml:"decay"`

	Memory MemoryConfig `toml:"memory"`
}

// MemoryConfig is the `[model.memory]` section.
type MemoryConfig struct {
	// MemTotalPercent and MemAvailablePercent are in [-100, 100].
	MemTotalPercent     int `toml:"memtotal"`
	MemAvailablePercent int `toml:"memavailable"`
}

// SystemConfig is the `[system]` section.
type SystemConfig struct {
	DoScan    bool `toml:"doscan"`
	DoPredict bool `toml:"dopredict"`
	// AutosaveSeconds is deprecated in favor of
	// PersistenceConfig.AutosaveIntervalSeconds; kept for config
	// sources that still set it at the system level.
	AutosaveSeconds int      `toml:"autosave"`
	ExePrefix       []string `toml:"exeprefix"`
	MapPrefix       []string `toml:"mapprefix"`
	// SortStrategy is one of none|path|block|inode.
	SortStrategy string `toml:"sortstrategy"`
	// PrefetchConcurrency: nil means "auto" (GOMAXPROCS), 0 disables
	// prefetch execution entirely.
	PrefetchConcurrency   *int `toml:"prefetch_concurrency"`
	PolicyCacheTTLSeconds int  `toml:"policy_cache_ttl"`
	PolicyCacheCapacity   int  `toml:"policy_cache_capacity"`
}

// PersistenceConfig is the `[persistence]` section.
type PersistenceConfig struct {
	StatePath string `toml:"state_path"`
	// AutosaveIntervalSeconds, if set, triggers periodic save() from
	// the Engine's run_until loop.
	AutosaveIntervalSeconds *int `toml:"autosave_interval"`
	SaveOnShutdown          bool `toml:"save_on_shutdown"`
}

// Config is the full merged configuration surface of spec.md §6.
type Config struct {
	Model       ModelConfig       `toml:"model"`
	System      SystemConfig      `toml:"system"`
	Persistence PersistenceConfig `toml:"persistence"`
}

// Cycle returns Model.CycleSeconds as a time.Duration.
func (c *Config) Cycle() time.Duration {
	return time.Duration(c.Model.CycleSeconds) * time.Second
}

// ActiveWindow returns Model.ActiveWindowSeconds as a time.Duration.
func (c *Config) ActiveWindow() time.Duration {
	return time.Duration(c.Model.ActiveWindowSeconds) * time.Second
}

// PolicyCacheTTL returns System.PolicyCacheTTLSeconds as a time.Duration.
func (c *Config) PolicyCacheTTL() time.Duration {
	return time.Duration(c.System.PolicyCacheTTLSeconds) * time.Second
}

// HalfLife returns Model.HalfLifeSeconds as a time.Duration and true, or
// (0, false) if unset.
func (c *Config) HalfLife() (time.Duration, bool) {
	if c.Model.HalfLifeSeconds == nil {
		return 0, false
	}
	return time.Duration(*c.Model.HalfLifeSeconds) * time.Second, true
}

// AutosaveInterval returns Persistence.AutosaveIntervalSeconds as a
// time.Duration and true, or (0, false) if unset.
func (c *Config) AutosaveInterval() (time.Duration, bool) {
	if c.Persistence.AutosaveIntervalSeconds == nil {
		return 0, false
	}
	return time.Duration(*c.Persistence.AutosaveIntervalSeconds) * time.Second, true
}

// DefaultConfig returns a Config with sensible default values, mirroring
// the teacher's DefaultConfig() constructor.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			CycleSeconds:        5,
			UseCorrelation:      true,
			MinSizeBytes:        64 * 1024,
			ActiveWindowSeconds: 300,
			Memory: MemoryConfig{
				MemTotalPercent:     0,
				MemAvailablePercent: 10,
			},
		},
		System: SystemConfig{
			DoScan:                true,
			DoPredict:             true,
			SortStrategy:          "none",
			PolicyCacheTTLSeconds: 60,
			PolicyCacheCapacity:   4096,
		},
		Persistence: PersistenceConfig{
			StatePath:      ".prefetchd/state.db",
			SaveOnShutdown: true,
		},
	}
}

// Load decodes each path in order into one Config, starting from
// DefaultConfig(). go-toml/v2's Unmarshal only overwrites fields actually
// present in a document, so later paths override earlier ones field by
// field (including across the same struct) without the explicit
// section-presence bookkeeping the teacher's YAML loader needed — TOML
// decode-into-existing-struct already gives "later overrides earlier"
// merge semantics. A missing path is skipped, not an error; the daemon
// runs on defaults if no config file exists at all.
func Load(paths ...string) (*Config, error) {
	cfg := DefaultConfig()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate enforces the numeric ranges and enumerations of spec.md §6.
func (c *Config) Validate() error {
	if c.Model.CycleSeconds <= 0 {
		return fmt.Errorf("model.cycle must be positive, got %d", c.Model.CycleSeconds)
	}
	if c.Model.ActiveWindowSeconds <= 0 {
		return fmt.Errorf("model.active_window must be positive, got %d", c.Model.ActiveWindowSeconds)
	}
	if c.Model.MinSizeBytes < 0 {
		return fmt.Errorf("model.minsize must be non-negative, got %d", c.Model.MinSizeBytes)
	}
	if c.Model.HalfLifeSeconds != nil && *c.Model.HalfLifeSeconds <= 0 {
		return fmt.Errorf("model.half_life must be positive when set, got %d", *c.Model.HalfLifeSeconds)
	}
	if c.Model.Decay != nil && (*c.Model.Decay < 0 || *c.Model.Decay > 1) {
		return fmt.Errorf("model.decay must be in [0,1], got %v", *c.Model.Decay)
	}
	if err := validatePercent("model.memory.memtotal", c.Model.Memory.MemTotalPercent); err != nil {
		return err
	}
	if err := validatePercent("model.memory.memavailable", c.Model.Memory.MemAvailablePercent); err != nil {
		return err
	}
	switch c.System.SortStrategy {
	case "", "none", "path", "block", "inode":
	default:
		return fmt.Errorf("system.sortstrategy must be one of none|path|block|inode, got %q", c.System.SortStrategy)
	}
	if c.System.PrefetchConcurrency != nil && *c.System.PrefetchConcurrency < 0 {
		return fmt.Errorf("system.prefetch_concurrency must be non-negative, got %d", *c.System.PrefetchConcurrency)
	}
	if c.System.PolicyCacheTTLSeconds < 0 {
		return fmt.Errorf("system.policy_cache_ttl must be non-negative, got %d", c.System.PolicyCacheTTLSeconds)
	}
	if c.System.PolicyCacheCapacity < 0 {
		return fmt.Errorf("system.policy_cache_capacity must be non-negative, got %d", c.System.PolicyCacheCapacity)
	}
	if c.Persistence.StatePath == "" {
		return fmt.Errorf("persistence.state_path must be set")
	}
	if c.Persistence.AutosaveIntervalSeconds != nil && *c.Persistence.AutosaveIntervalSeconds <= 0 {
		return fmt.Errorf("persistence.autosave_interval must be positive when set, got %d", *c.Persistence.AutosaveIntervalSeconds)
	}
	return nil
}

func validatePercent(field string, v int) error {
	if v < -100 || v > 100 {
		return fmt.Errorf("%s must be in [-100,100], got %d", field, v)
	}
	return nil
}
