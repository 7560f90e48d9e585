package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults tests that default configuration values are loaded correctly.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default server host '0.0.0.0', got '%s'", cfg.Server.Host)
	}
	if cfg.Server.Port != 8095 {
		t.Errorf("Expected default server port 8095, got %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}

	if cfg.Backend.URL != "http://localhost:8000/api/actions" {
		t.Errorf("Expected default backend url, got '%s'", cfg.Backend.URL)
	}
	if cfg.Backend.Timeout != 60*time.Second {
		t.Errorf("Expected default backend timeout 60s, got %v", cfg.Backend.Timeout)
	}

	if cfg.Credentials.Store != "memory" {
		t.Errorf("Expected default credentials store 'memory', got '%s'", cfg.Credentials.Store)
	}
	if cfg.Credentials.UpsertPolicy != "insert_only" {
		t.Errorf("Expected default upsert policy 'insert_only', got '%s'", cfg.Credentials.UpsertPolicy)
	}

	if cfg.Polling.BackupInterval != 3*time.Second {
		t.Errorf("Expected backup interval 3s, got %v", cfg.Polling.BackupInterval)
	}
	if cfg.Polling.RestoreInterval != 5*time.Second {
		t.Errorf("Expected restore interval 5s, got %v", cfg.Polling.RestoreInterval)
	}
	if cfg.Polling.InstallInterval != 2*time.Second {
		t.Errorf("Expected install interval 2s, got %v", cfg.Polling.InstallInterval)
	}
	if cfg.Polling.BackupTimeout != 30*time.Minute {
		t.Errorf("Expected backup timeout 30m, got %v", cfg.Polling.BackupTimeout)
	}
	if cfg.Polling.RestoreTimeout != time.Hour {
		t.Errorf("Expected restore timeout 60m, got %v", cfg.Polling.RestoreTimeout)
	}
	if cfg.Polling.InstallTimeout != 20*time.Minute {
		t.Errorf("Expected install timeout 20m, got %v", cfg.Polling.InstallTimeout)
	}
	if cfg.Polling.MaxFetchErrors != 5 {
		t.Errorf("Expected max fetch errors 5, got %d", cfg.Polling.MaxFetchErrors)
	}

	if cfg.SSH.ConnectTimeout != 10*time.Second {
		t.Errorf("Expected ssh connect timeout 10s, got %v", cfg.SSH.ConnectTimeout)
	}
	if cfg.CouchDB.Enabled {
		t.Errorf("Expected couchdb disabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default logging level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Security.RateLimit != 100 {
		t.Errorf("Expected default rate limit 100, got %d", cfg.Security.RateLimit)
	}
	if cfg.Security.JWTExpiration != 24*time.Hour {
		t.Errorf("Expected default jwt expiration 24h, got %v", cfg.Security.JWTExpiration)
	}
}

func validConfig() *Config {
	return &Config{
		Server:      ServerConfig{Port: 8095},
		Backend:     BackendConfig{URL: "http://backend/api"},
		Credentials: CredentialsConfig{Store: "memory", UpsertPolicy: "insert_only"},
		Polling: PollingConfig{
			BackupInterval:  time.Second,
			RestoreInterval: time.Second,
			InstallInterval: time.Second,
			MaxFetchErrors:  1,
		},
	}
}

// TestValidation tests the configuration validation logic.
func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid configuration", mutate: func(c *Config) {}},
		{name: "invalid port - too low", mutate: func(c *Config) { c.Server.Port = 0 }, errMsg: "invalid server port"},
		{name: "invalid port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errMsg: "invalid server port"},
		{name: "missing backend url", mutate: func(c *Config) { c.Backend.URL = "" }, errMsg: "backend url is required"},
		{name: "unknown store", mutate: func(c *Config) { c.Credentials.Store = "vault" }, errMsg: "invalid credentials store"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Credentials.Store = "sqlite" }, errMsg: "credentials path is required"},
		{name: "unknown upsert policy", mutate: func(c *Config) { c.Credentials.UpsertPolicy = "merge" }, errMsg: "invalid credentials upsert_policy"},
		{name: "zero interval", mutate: func(c *Config) { c.Polling.RestoreInterval = 0 }, errMsg: "polling intervals must be positive"},
		{name: "zero fetch errors", mutate: func(c *Config) { c.Polling.MaxFetchErrors = 0 }, errMsg: "max_fetch_errors"},
		{name: "couchdb without database", mutate: func(c *Config) {
			c.CouchDB = CouchDBConfig{Enabled: true, URL: "http://localhost:5984"}
		}, errMsg: "couchdb database is required"},
		{name: "auth without secret", mutate: func(c *Config) { c.Security.AuthEnabled = true }, errMsg: "jwt secret is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Expected error containing '%s', got nil", tt.errMsg)
			} else if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.errMsg, err.Error())
			}
		})
	}
}

// TestEnvironmentVariableOverride tests that environment variables override config values.
func TestEnvironmentVariableOverride(t *testing.T) {
	t.Setenv("KIWI_SERVER_PORT", "9999")
	t.Setenv("KIWI_BACKEND_URL", "https://backend.example.com/actions")
	t.Setenv("KIWI_CREDENTIALS_UPSERT_POLICY", "overwrite")

	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999 from environment, got %d", cfg.Server.Port)
	}
	if cfg.Backend.URL != "https://backend.example.com/actions" {
		t.Errorf("Expected backend url from environment, got '%s'", cfg.Backend.URL)
	}
	if cfg.Credentials.UpsertPolicy != "overwrite" {
		t.Errorf("Expected upsert policy 'overwrite' from environment, got '%s'", cfg.Credentials.UpsertPolicy)
	}
}

// TestLoadFile tests that values in an explicit config file are applied.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiwi.yaml")
	content := `
backend:
  url: http://10.1.1.1/api
polling:
  backup_interval: 1s
  backup_timeout: 5m
credentials:
  store: sqlite
  path: /tmp/creds.db
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Backend.URL != "http://10.1.1.1/api" {
		t.Errorf("Expected backend url from file, got '%s'", cfg.Backend.URL)
	}
	if cfg.Polling.BackupInterval != time.Second || cfg.Polling.BackupTimeout != 5*time.Minute {
		t.Errorf("Expected polling overrides, got %v / %v", cfg.Polling.BackupInterval, cfg.Polling.BackupTimeout)
	}
	if cfg.Polling.RestoreInterval != 5*time.Second {
		t.Errorf("Expected untouched restore interval default, got %v", cfg.Polling.RestoreInterval)
	}
	if cfg.Credentials.Store != "sqlite" {
		t.Errorf("Expected sqlite store, got '%s'", cfg.Credentials.Store)
	}
}

// TestGet tests the global config getter.
func TestGet(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	retrieved := Get()
	if retrieved == nil {
		t.Fatal("Get() returned nil")
	}
	if retrieved.Server.Port != 8095 {
		t.Errorf("Expected port 8095 from Get(), got %d", retrieved.Server.Port)
	}
}
