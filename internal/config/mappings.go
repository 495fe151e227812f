package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	EnvMappingsSuggestThreshold  = "COMPASS_MAPPINGS_SUGGEST_THRESHOLD"
	EnvMappingsConfirmationFloor = "COMPASS_MAPPINGS_CONFIRMATION_FLOOR"
)

// MappingsConfig holds similarity thresholds for mapping suggestions.
// Candidates scoring below ConfirmationFloor are flagged for confirmation.
type MappingsConfig struct {
	SuggestThreshold  float64 `toml:"suggest_threshold"`
	ConfirmationFloor float64 `toml:"confirmation_floor"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *MappingsConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *MappingsConfig) Merge(overlay *MappingsConfig) {
	if overlay.SuggestThreshold != 0 {
		c.SuggestThreshold = overlay.SuggestThreshold
	}
	if overlay.ConfirmationFloor != 0 {
		c.ConfirmationFloor = overlay.ConfirmationFloor
	}
}

func (c *MappingsConfig) loadDefaults() {
	if c.SuggestThreshold == 0 {
		c.SuggestThreshold = 0.7
	}
	if c.ConfirmationFloor == 0 {
		c.ConfirmationFloor = 0.85
	}
}

func (c *MappingsConfig) loadEnv() {
	if v := os.Getenv(EnvMappingsSuggestThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SuggestThreshold = f
		}
	}
	if v := os.Getenv(EnvMappingsConfirmationFloor); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfirmationFloor = f
		}
	}
}

func (c *MappingsConfig) validate() error {
	if c.SuggestThreshold < 0 || c.SuggestThreshold > 1 {
		return fmt.Errorf("suggest_threshold must be between 0 and 1: %v", c.SuggestThreshold)
	}
	if c.ConfirmationFloor < 0 || c.ConfirmationFloor > 1 {
		return fmt.Errorf("confirmation_floor must be between 0 and 1: %v", c.ConfirmationFloor)
	}
	return nil
}
