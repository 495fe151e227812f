package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/compass/internal/config"
)

const baseConfig = `
shutdown_timeout = "30s"
version = "0.1.0"

[server]
host = "0.0.0.0"
port = 8080
read_timeout = "1m"
write_timeout = "15m"
shutdown_timeout = "30s"

[database]
host = "localhost"
port = 5432
name = "compass"
user = "compass"
password = "compass"
ssl_mode = "disable"
max_open_conns = 25
max_idle_conns = 5
conn_max_lifetime = "15m"
conn_timeout = "5s"

[storage]
container_name = "surveys"
connection_string = "DefaultEndpointsProtocol=http;AccountName=compassstore;AccountKey=key;BlobEndpoint=http://127.0.0.1:10000/compassstore;"

[api]
base_path = "/api"

[api.cors]
enabled = false

[api.pagination]
default_page_size = 25
max_page_size = 50

[mappings]
suggest_threshold = 0.6
confirmation_floor = 0.9

[ingest]
workers = 8
max_rows = 1000

[txn]
lock_timeout = "5s"
verify_attempts = 2
`

const overlayConfig = `
[server]
port = 9090

[database]
host = "prodhost"

[ingest]
workers = 16
`

// minimalConfig provides the minimum fields required for validation to pass
// (db name, db user, storage connection string).
const minimalConfig = `
[database]
name = "compass"
user = "compass"

[storage]
connection_string = "conn"
`

func writeConfig(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func loadBase(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return cfg
}

func TestLoad(t *testing.T) {
	cfg := loadBase(t)

	if cfg.Server.Port != 8080 {
		t.Errorf("server port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("db host: got %s, want localhost", cfg.Database.Host)
	}
	if cfg.Storage.ContainerName != "surveys" {
		t.Errorf("storage container: got %s, want surveys", cfg.Storage.ContainerName)
	}
	if cfg.API.BasePath != "/api" {
		t.Errorf("api base_path: got %s, want /api", cfg.API.BasePath)
	}
	if cfg.API.Pagination.DefaultPageSize != 25 {
		t.Errorf("pagination default_page_size: got %d, want 25", cfg.API.Pagination.DefaultPageSize)
	}
	if cfg.API.Pagination.MaxPageSize != 50 {
		t.Errorf("pagination max_page_size: got %d, want 50", cfg.API.Pagination.MaxPageSize)
	}
	if cfg.Mappings.SuggestThreshold != 0.6 {
		t.Errorf("suggest_threshold: got %v, want 0.6", cfg.Mappings.SuggestThreshold)
	}
	if cfg.Mappings.ConfirmationFloor != 0.9 {
		t.Errorf("confirmation_floor: got %v, want 0.9", cfg.Mappings.ConfirmationFloor)
	}
	if cfg.Ingest.Workers != 8 || cfg.Ingest.MaxRows != 1000 {
		t.Errorf("ingest: got %+v, want workers 8 max_rows 1000", cfg.Ingest)
	}
	if cfg.Txn.LockTimeoutDuration() != 5*time.Second {
		t.Errorf("lock_timeout: got %v, want 5s", cfg.Txn.LockTimeoutDuration())
	}
	if cfg.Txn.VerifyAttempts != 2 {
		t.Errorf("verify_attempts: got %d, want 2", cfg.Txn.VerifyAttempts)
	}
}

func TestLoadWithOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, baseConfig)
	writeConfig(t, dir, "config.staging.toml", overlayConfig)
	chdir(t, dir)

	t.Setenv(config.EnvCompassEnv, "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port: got %d, want 9090 (from overlay)", cfg.Server.Port)
	}
	if cfg.Database.Host != "prodhost" {
		t.Errorf("db host: got %s, want prodhost (from overlay)", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("db port: got %d, want 5432 (from base)", cfg.Database.Port)
	}
	if cfg.Ingest.Workers != 16 {
		t.Errorf("ingest workers: got %d, want 16 (from overlay)", cfg.Ingest.Workers)
	}
	if cfg.Ingest.MaxRows != 1000 {
		t.Errorf("ingest max_rows: got %d, want 1000 (from base)", cfg.Ingest.MaxRows)
	}
}

func TestLoadEnvVarOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, baseConfig)
	chdir(t, dir)

	t.Setenv(config.EnvCompassVersion, "2.0.0")
	t.Setenv(config.EnvServerPort, "3000")
	t.Setenv(config.EnvMappingsSuggestThreshold, "0.55")
	t.Setenv(config.EnvIngestMaxRows, "25")
	t.Setenv("COMPASS_TXN_LOCK_TIMEOUT", "250ms")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Version != "2.0.0" {
		t.Errorf("version: got %s, want 2.0.0", cfg.Version)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("server port: got %d, want 3000", cfg.Server.Port)
	}
	if cfg.Mappings.SuggestThreshold != 0.55 {
		t.Errorf("suggest_threshold: got %v, want 0.55", cfg.Mappings.SuggestThreshold)
	}
	if cfg.Ingest.MaxRows != 25 {
		t.Errorf("max_rows: got %d, want 25", cfg.Ingest.MaxRows)
	}
	if cfg.Txn.LockTimeoutDuration() != 250*time.Millisecond {
		t.Errorf("lock_timeout: got %v, want 250ms", cfg.Txn.LockTimeoutDuration())
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("COMPASS_DB_NAME", "testdb")
	t.Setenv("COMPASS_DB_USER", "testuser")
	t.Setenv("COMPASS_STORAGE_CONNECTION_STRING", "conn")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load without config.toml failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port default: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("db name from env: got %s, want testdb", cfg.Database.Name)
	}
	if cfg.Storage.ConnectionString != "conn" {
		t.Errorf("storage conn from env: got %s, want conn", cfg.Storage.ConnectionString)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, `server = {`)
	chdir(t, dir)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, minimalConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.API.Pagination.DefaultPageSize != 20 {
		t.Errorf("pagination default_page_size: got %d, want 20", cfg.API.Pagination.DefaultPageSize)
	}
	if cfg.API.Pagination.MaxPageSize != 100 {
		t.Errorf("pagination max_page_size: got %d, want 100", cfg.API.Pagination.MaxPageSize)
	}
	if cfg.Mappings.SuggestThreshold != 0.7 {
		t.Errorf("suggest_threshold: got %v, want 0.7", cfg.Mappings.SuggestThreshold)
	}
	if cfg.Mappings.ConfirmationFloor != 0.85 {
		t.Errorf("confirmation_floor: got %v, want 0.85", cfg.Mappings.ConfirmationFloor)
	}
	if cfg.Ingest.Workers != 4 {
		t.Errorf("ingest workers: got %d, want 4", cfg.Ingest.Workers)
	}
	if cfg.Ingest.MaxRows != 50000 {
		t.Errorf("ingest max_rows: got %d, want 50000", cfg.Ingest.MaxRows)
	}
	if cfg.Txn.LockTimeoutDuration() != 30*time.Second {
		t.Errorf("lock_timeout: got %v, want 30s", cfg.Txn.LockTimeoutDuration())
	}
	if cfg.Txn.VerifyAttempts != 3 {
		t.Errorf("verify_attempts: got %d, want 3", cfg.Txn.VerifyAttempts)
	}
	if cfg.ShutdownTimeoutDuration() != 30*time.Second {
		t.Errorf("shutdown timeout: got %v, want 30s", cfg.ShutdownTimeoutDuration())
	}
}

func TestEnv(t *testing.T) {
	cfg := loadBase(t)

	if cfg.Env() != "local" {
		t.Errorf("env: got %s, want local", cfg.Env())
	}

	t.Setenv(config.EnvCompassEnv, "production")
	if cfg.Env() != "production" {
		t.Errorf("env: got %s, want production", cfg.Env())
	}
}

func TestServerAddr(t *testing.T) {
	cfg := loadBase(t)

	if addr := cfg.Server.Addr(); addr != "0.0.0.0:8080" {
		t.Errorf("addr: got %s, want 0.0.0.0:8080", addr)
	}
}

func TestMaxUploadSizeBytes(t *testing.T) {
	tests := []struct {
		name string
		size string
		want int64
	}{
		{"valid 50MB", "50MB", 50 * 1024 * 1024},
		{"valid 10MB", "10MB", 10 * 1024 * 1024},
		{"valid 1GB", "1GB", 1024 * 1024 * 1024},
		{"invalid falls back to 50MB", "bad", 50 * 1024 * 1024},
		{"empty falls back to 50MB", "", 50 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.APIConfig{MaxUploadSize: tt.size}
			if got := cfg.MaxUploadSizeBytes(); got != tt.want {
				t.Errorf("MaxUploadSizeBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxUploadSizeEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, config.BaseConfigFile, baseConfig)
	chdir(t, dir)

	t.Setenv("COMPASS_API_MAX_UPLOAD_SIZE", "100MB")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	want := int64(100 * 1024 * 1024)
	if got := cfg.API.MaxUploadSizeBytes(); got != want {
		t.Errorf("MaxUploadSizeBytes() = %d, want %d", got, want)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name:    "invalid port",
			config:  minimalConfig + "\n[server]\nport = 99999\n",
			wantErr: "invalid port",
		},
		{
			name:    "invalid read_timeout",
			config:  minimalConfig + "\n[server]\nread_timeout = \"bad\"\n",
			wantErr: "invalid read_timeout",
		},
		{
			name:    "threshold out of range",
			config:  minimalConfig + "\n[mappings]\nsuggest_threshold = 1.5\n",
			wantErr: "suggest_threshold",
		},
		{
			name:    "negative workers",
			config:  minimalConfig + "\n[ingest]\nworkers = -1\n",
			wantErr: "workers must be positive",
		},
		{
			name:    "invalid lock timeout",
			config:  minimalConfig + "\n[txn]\nlock_timeout = \"soon\"\n",
			wantErr: "invalid lock_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, config.BaseConfigFile, tt.config)
			chdir(t, dir)

			_, err := config.Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
