package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	EnvIngestWorkers = "COMPASS_INGEST_WORKERS"
	EnvIngestMaxRows = "COMPASS_INGEST_MAX_ROWS"
)

// IngestConfig holds row normalization settings.
type IngestConfig struct {
	Workers int `toml:"workers"`
	MaxRows int `toml:"max_rows"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *IngestConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *IngestConfig) Merge(overlay *IngestConfig) {
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.MaxRows != 0 {
		c.MaxRows = overlay.MaxRows
	}
}

func (c *IngestConfig) loadDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.MaxRows == 0 {
		c.MaxRows = 50000
	}
}

func (c *IngestConfig) loadEnv() {
	if v := os.Getenv(EnvIngestWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv(EnvIngestMaxRows); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRows = n
		}
	}
}

func (c *IngestConfig) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive: %d", c.Workers)
	}
	if c.MaxRows < 1 {
		return fmt.Errorf("max_rows must be positive: %d", c.MaxRows)
	}
	return nil
}
