package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/archeonlabs/cloudcore/internal/flagx"
	"github.com/archeonlabs/cloudcore/internal/timex"
)

// jsonConfig is the DTO for the optional JSON configuration file. Duration
// fields accept both strings such as "300s" and integer nanoseconds.
type jsonConfig struct {
	StoreDriver       string         `json:"store_driver"`
	StoreDSN          string         `json:"store_dsn"`
	SecretKey         string         `json:"secret_key"`
	CacheTTL          timex.Duration `json:"cache_ttl"`
	SessionTTL        timex.Duration `json:"session_ttl"`
	SweepInitialDelay timex.Duration `json:"sweep_initial_delay"`
	SweepInterval     timex.Duration `json:"sweep_interval"`
	SweepBatchSize    int            `json:"sweep_batch_size"`
	Workers           int64          `json:"workers"`
}

// parseJSON overlays values from the file named by -c/-config, when given.
// Only fields present in the file override what is already set.
func parseJSON(cfg *Config) error {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	c := &jsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	if c.StoreDriver != "" {
		cfg.StoreDriver = c.StoreDriver
	}
	if c.StoreDSN != "" {
		cfg.StoreDSN = c.StoreDSN
	}
	if c.SecretKey != "" {
		cfg.SecretKey = c.SecretKey
	}
	if c.CacheTTL.Duration > 0 {
		cfg.CacheTTL = c.CacheTTL.Duration
	}
	if c.SessionTTL.Duration > 0 {
		cfg.SessionTTL = c.SessionTTL.Duration
	}
	if c.SweepInitialDelay.Duration > 0 {
		cfg.SweepInitialDelay = c.SweepInitialDelay.Duration
	}
	if c.SweepInterval.Duration > 0 {
		cfg.SweepInterval = c.SweepInterval.Duration
	}
	if c.SweepBatchSize > 0 {
		cfg.SweepBatchSize = c.SweepBatchSize
	}
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	return nil
}
