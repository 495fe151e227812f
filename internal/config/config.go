package config

import (
	"fmt"
	"os"
	"time"

	"github.com/JaimeStill/compass/pkg/database"
	"github.com/JaimeStill/compass/pkg/storage"
	"github.com/JaimeStill/compass/pkg/txn"
	"github.com/pelletier/go-toml/v2"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvCompassEnv             = "COMPASS_ENV"
	EnvCompassShutdownTimeout = "COMPASS_SHUTDOWN_TIMEOUT"
	EnvCompassVersion         = "COMPASS_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "COMPASS_DB_HOST",
	Port:            "COMPASS_DB_PORT",
	Name:            "COMPASS_DB_NAME",
	User:            "COMPASS_DB_USER",
	Password:        "COMPASS_DB_PASSWORD",
	SSLMode:         "COMPASS_DB_SSL_MODE",
	MaxOpenConns:    "COMPASS_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "COMPASS_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "COMPASS_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "COMPASS_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "COMPASS_STORAGE_CONTAINER_NAME",
	ConnectionString: "COMPASS_STORAGE_CONNECTION_STRING",
	MaxListSize:      "COMPASS_STORAGE_MAX_LIST_SIZE",
}

var txnEnv = &txn.Env{
	LockTimeout:    "COMPASS_TXN_LOCK_TIMEOUT",
	VerifyAttempts: "COMPASS_TXN_VERIFY_ATTEMPTS",
}

// Config is the root configuration for the compass service.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	API             APIConfig       `toml:"api"`
	Mappings        MappingsConfig  `toml:"mappings"`
	Ingest          IngestConfig    `toml:"ingest"`
	Txn             txn.Config      `toml:"txn"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	Version         string          `toml:"version"`
}

// Env returns the COMPASS_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvCompassEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Mappings.Merge(&overlay.Mappings)
	c.Ingest.Merge(&overlay.Ingest)
	c.Txn.Merge(&overlay.Txn)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Mappings.Finalize(); err != nil {
		return fmt.Errorf("mappings: %w", err)
	}
	if err := c.Ingest.Finalize(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.Txn.Finalize(txnEnv); err != nil {
		return fmt.Errorf("txn: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvCompassShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvCompassVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvCompassEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
