// Package config handles runtime configuration: defaults, an explicit
// credential source chain, an optional JSON file overlay, and command-line
// flags, applied in that order.
package config

import (
	"time"
)

// Config holds runtime settings for a cloudcore Manager.
//
// Fields:
//   - StoreDriver: database/sql driver name, "pgx" or "sqlite".
//   - StoreDSN: connection string for the table store.
//   - SecretKey: HMAC secret for session signatures. There is no default;
//     an empty key is rejected at wiring time.
//   - CacheTTL: staleness bound for the synchronized caches.
//   - SessionTTL: lifetime of issued sessions.
//   - SweepInitialDelay / SweepInterval / SweepBatchSize: session sweeper
//     schedule and per-round-trip deletion bound.
//   - Workers: background dispatcher worker bound.
type Config struct {
	StoreDriver       string
	StoreDSN          string
	SecretKey         string
	CacheTTL          time.Duration
	SessionTTL        time.Duration
	SweepInitialDelay time.Duration
	SweepInterval     time.Duration
	SweepBatchSize    int
	Workers           int64
}

// LoadDefaults populates everything except the credentials, which have no
// safe default.
func (c *Config) LoadDefaults() {
	c.StoreDriver = "pgx"
	c.StoreDSN = ""
	c.SecretKey = ""
	c.CacheTTL = 300 * time.Second
	c.SessionTTL = 24 * time.Hour
	c.SweepInitialDelay = 60 * time.Second
	c.SweepInterval = 12 * time.Hour
	c.SweepBatchSize = 100
	c.Workers = 8
}

// Load builds a Config by applying defaults, resolving the credential
// sources in the given priority order, then overlaying values from an
// optional JSON file (-c/-config) and finally from command-line flags.
func Load(sources ...Source) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := resolveSources(cfg, sources); err != nil {
		return nil, err
	}
	if err := parseJSON(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	return cfg, nil
}
