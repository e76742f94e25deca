// Package config loads engine configuration from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/legendcache/legend"
)

// Config holds all engine configuration.
type Config struct {
	Cache     Cache     `yaml:"cache"`
	Workers   Workers   `yaml:"workers"`
	Stability Stability `yaml:"stability"`
	Notify    Notify    `yaml:"notify"`
}

// Cache holds symbol cache settings.
type Cache struct {
	Capacity      int           `yaml:"capacity"`
	Shards        int           `yaml:"shards"`
	MaxAge        time.Duration `yaml:"max_age"`        // 0 disables age eviction
	SweepInterval time.Duration `yaml:"sweep_interval"` // how often aged entries are swept
	MaxBytes      int64         `yaml:"max_bytes"`      // 0 = unlimited
}

// Workers holds generation pool settings.
type Workers struct {
	Count      int `yaml:"count"`
	QueueLimit int `yaml:"queue_limit"`
}

// Stability holds verification settings.
type Stability struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Notify holds ready-notification settings.
type Notify struct {
	Buffer int `yaml:"buffer"`
}

// DefaultConfig returns a Config with the engine defaults.
func DefaultConfig() Config {
	return Config{
		Cache: Cache{
			Capacity:      1000,
			Shards:        1,
			MaxAge:        time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Workers: Workers{
			Count:      4,
			QueueLimit: 4096,
		},
		Stability: Stability{
			PollInterval: 200 * time.Millisecond,
			Timeout:      5 * time.Second,
		},
		Notify: Notify{
			Buffer: 256,
		},
	}
}

// Load reads a YAML config file at path on top of the defaults.
// If the file does not exist, defaults are returned without error.
// If the file contains invalid YAML or unknown fields, an error is returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return &cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// comment-only files decode to EOF
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("config: cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.Shards < 0 {
		return fmt.Errorf("config: cache.shards must be non-negative, got %d", c.Cache.Shards)
	}
	if c.Cache.MaxAge < 0 || c.Cache.SweepInterval < 0 {
		return errors.New("config: cache.max_age and cache.sweep_interval must be non-negative")
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("config: cache.max_bytes must be non-negative, got %d", c.Cache.MaxBytes)
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("config: workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.Workers.QueueLimit <= 0 {
		return fmt.Errorf("config: workers.queue_limit must be positive, got %d", c.Workers.QueueLimit)
	}
	if c.Stability.PollInterval <= 0 {
		return fmt.Errorf("config: stability.poll_interval must be positive, got %v", c.Stability.PollInterval)
	}
	if c.Stability.Timeout < c.Stability.PollInterval {
		return fmt.Errorf("config: stability.timeout (%v) must not be shorter than poll_interval (%v)",
			c.Stability.Timeout, c.Stability.PollInterval)
	}
	if c.Notify.Buffer <= 0 {
		return fmt.Errorf("config: notify.buffer must be positive, got %d", c.Notify.Buffer)
	}
	return nil
}

// ApplyEnv overrides fields from LEGENDCACHE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("LEGENDCACHE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: LEGENDCACHE_CAPACITY: %w", err)
		}
		c.Cache.Capacity = n
	}
	if v := os.Getenv("LEGENDCACHE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: LEGENDCACHE_WORKERS: %w", err)
		}
		c.Workers.Count = n
	}
	if v := os.Getenv("LEGENDCACHE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: LEGENDCACHE_POLL_INTERVAL: %w", err)
		}
		c.Stability.PollInterval = d
	}
	if v := os.Getenv("LEGENDCACHE_STABILITY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: LEGENDCACHE_STABILITY_TIMEOUT: %w", err)
		}
		c.Stability.Timeout = d
	}
	return nil
}

// EngineOptions maps the config onto legend.Options. Callbacks, metrics
// and the logger are left for the caller.
func (c *Config) EngineOptions() legend.Options {
	return legend.Options{
		Capacity:         c.Cache.Capacity,
		Shards:           c.Cache.Shards,
		MaxAge:           c.Cache.MaxAge,
		SweepInterval:    c.Cache.SweepInterval,
		MaxBytes:         c.Cache.MaxBytes,
		Workers:          c.Workers.Count,
		QueueLimit:       c.Workers.QueueLimit,
		PollInterval:     c.Stability.PollInterval,
		StabilityTimeout: c.Stability.Timeout,
		NotifyBuffer:     c.Notify.Buffer,
	}
}
