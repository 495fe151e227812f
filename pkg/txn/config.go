package txn

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds lock and atomic execution settings.
type Config struct {
	LockTimeout    string `toml:"lock_timeout"`
	VerifyAttempts int    `toml:"verify_attempts"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	LockTimeout    string
	VerifyAttempts string
}

// LockTimeoutDuration returns LockTimeout as a time.Duration.
func (c *Config) LockTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.LockTimeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.LockTimeout != "" {
		c.LockTimeout = overlay.LockTimeout
	}
	if overlay.VerifyAttempts != 0 {
		c.VerifyAttempts = overlay.VerifyAttempts
	}
}

func (c *Config) loadDefaults() {
	if c.LockTimeout == "" {
		c.LockTimeout = "30s"
	}
	if c.VerifyAttempts == 0 {
		c.VerifyAttempts = 3
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.LockTimeout != "" {
		if v := os.Getenv(env.LockTimeout); v != "" {
			c.LockTimeout = v
		}
	}
	if env.VerifyAttempts != "" {
		if v := os.Getenv(env.VerifyAttempts); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.VerifyAttempts = n
			}
		}
	}
}

func (c *Config) validate() error {
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil {
		return fmt.Errorf("invalid lock_timeout: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("lock_timeout must not be negative")
	}
	if c.VerifyAttempts < 1 {
		return fmt.Errorf("verify_attempts must be positive")
	}
	return nil
}
