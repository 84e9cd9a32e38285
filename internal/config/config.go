// Package config loads collector tunables from COLLECTOR_* environment
// variables, applying defaults and returning descriptive errors for invalid
// overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultResyncInterval controls how often the full-state resync runs.
	DefaultResyncInterval = 30 * time.Minute
	// DefaultReadinessInterval is the pause between readiness passes.
	DefaultReadinessInterval = 5 * time.Second
	// DefaultSegmentMaxBytes caps a live journal segment before rotation.
	DefaultSegmentMaxBytes int64 = 64 << 20
	// DefaultDedupCapacity bounds the content-digest seen-set.
	DefaultDedupCapacity = 1_000_000
)

// Config captures all runtime tunables for the collector.
type Config struct {
	BridgeURL         string        `env:"COLLECTOR_BRIDGE_URL" envDefault:"ws://127.0.0.1:43190/stream"`
	JournalDir        string        `env:"COLLECTOR_JOURNAL_DIR" envDefault:"journal"`
	ExportDir         string        `env:"COLLECTOR_EXPORT_DIR"`
	ResyncInterval    time.Duration `env:"COLLECTOR_RESYNC_INTERVAL" envDefault:"30m"`
	ReadinessInterval time.Duration `env:"COLLECTOR_READINESS_INTERVAL" envDefault:"5s"`
	SegmentMaxBytes   int64         `env:"COLLECTOR_SEGMENT_MAX_BYTES" envDefault:"67108864"`
	DedupCapacity     int           `env:"COLLECTOR_DEDUP_CAPACITY" envDefault:"1000000"`
	LogLevel          string        `env:"COLLECTOR_LOG_LEVEL" envDefault:"info"`
	Channels          []string      `env:"COLLECTOR_CHANNELS" envSeparator:"," envDefault:"inventory.delta,inventory.cards-granted,wallet.changed"`
}

// Load reads the collector configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every tunable and reports all problems at once so a broken
// deployment surfaces the full picture in a single error.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.BridgeURL) == "" {
		problems = append(problems, "COLLECTOR_BRIDGE_URL must not be empty")
	}
	if strings.TrimSpace(c.JournalDir) == "" {
		problems = append(problems, "COLLECTOR_JOURNAL_DIR must not be empty")
	}
	if c.ResyncInterval <= 0 {
		problems = append(problems, fmt.Sprintf("COLLECTOR_RESYNC_INTERVAL must be a positive duration, got %s", c.ResyncInterval))
	}
	if c.ReadinessInterval <= 0 {
		problems = append(problems, fmt.Sprintf("COLLECTOR_READINESS_INTERVAL must be a positive duration, got %s", c.ReadinessInterval))
	}
	if c.SegmentMaxBytes <= 0 {
		problems = append(problems, fmt.Sprintf("COLLECTOR_SEGMENT_MAX_BYTES must be positive, got %d", c.SegmentMaxBytes))
	}
	if c.DedupCapacity <= 0 {
		problems = append(problems, fmt.Sprintf("COLLECTOR_DEDUP_CAPACITY must be positive, got %d", c.DedupCapacity))
	}
	if len(c.Channels) == 0 {
		problems = append(problems, "COLLECTOR_CHANNELS must name at least one change channel")
	}
	for _, channel := range c.Channels {
		if strings.TrimSpace(channel) == "" {
			problems = append(problems, "COLLECTOR_CHANNELS must not contain empty entries")
			break
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
