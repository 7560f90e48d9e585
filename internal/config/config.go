// Package config provides configuration management for Kiwi.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with KIWI_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./kiwi.yaml, ./configs/kiwi.yaml, ~/.kiwi/kiwi.yaml, /etc/kiwi/kiwi.yaml)
//  3. .env files
//  4. Environment variables (KIWI_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("configs/kiwi.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Backend: %s\n", cfg.Backend.URL)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use KIWI_ prefix and underscores for nested keys:
//   - KIWI_SERVER_PORT=8095
//   - KIWI_BACKEND_URL=http://localhost:8000/api/actions
//   - KIWI_CREDENTIALS_UPSERT_POLICY=overwrite
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for Kiwi.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Backend is the action dispatch endpoint
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Credentials controls the hop credential store
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`

	// Polling controls status polling intervals and bounds
	Polling PollingConfig `mapstructure:"polling" yaml:"polling"`

	// SSH contains settings for the hop-chain probe
	SSH SSHConfig `mapstructure:"ssh" yaml:"ssh"`

	// CouchDB contains job ledger settings
	CouchDB CouchDBConfig `mapstructure:"couchdb" yaml:"couchdb"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Security contains security and rate limiting settings
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server listen port (default: 8095)
	Port int `mapstructure:"port" yaml:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Debug enables debug logging and detailed error responses
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// TLSEnabled enables HTTPS
	TLSEnabled bool   `mapstructure:"tls_enabled" yaml:"tls_enabled"`
	TLSCert    string `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key" yaml:"tls_key"`
}

// BackendConfig points at the remote action dispatch endpoint.
type BackendConfig struct {
	// URL is the single RPC endpoint accepting {action, parameters}
	URL string `mapstructure:"url" yaml:"url"`

	// Token is sent as a bearer token when set
	Token string `mapstructure:"token" yaml:"token"`

	// Timeout bounds each dispatch call
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CredentialsConfig controls where hop credentials are cached.
type CredentialsConfig struct {
	// Store is "memory" (process lifetime) or "sqlite"
	Store string `mapstructure:"store" yaml:"store"`

	// Path is the sqlite file used when Store is "sqlite"
	Path string `mapstructure:"path" yaml:"path"`

	// UpsertPolicy is "insert_only" (first credential wins) or "overwrite"
	UpsertPolicy string `mapstructure:"upsert_policy" yaml:"upsert_policy"`
}

// PollingConfig holds intervals and upper bounds per poll kind.
type PollingConfig struct {
	BackupInterval  time.Duration `mapstructure:"backup_interval" yaml:"backup_interval"`
	RestoreInterval time.Duration `mapstructure:"restore_interval" yaml:"restore_interval"`
	InstallInterval time.Duration `mapstructure:"install_interval" yaml:"install_interval"`

	BackupTimeout  time.Duration `mapstructure:"backup_timeout" yaml:"backup_timeout"`
	RestoreTimeout time.Duration `mapstructure:"restore_timeout" yaml:"restore_timeout"`
	InstallTimeout time.Duration `mapstructure:"install_timeout" yaml:"install_timeout"`

	// MaxFetchErrors is the number of consecutive failed fetches that ends a poll
	MaxFetchErrors int `mapstructure:"max_fetch_errors" yaml:"max_fetch_errors"`
}

// SSHConfig contains settings for direct hop-chain checks.
type SSHConfig struct {
	KnownHostsFile        string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// CouchDBConfig contains job ledger connection settings.
type CouchDBConfig struct {
	// Enabled switches the job ledger from memory to CouchDB
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// URL is the CouchDB server URL (e.g., http://localhost:5984)
	URL string `mapstructure:"url" yaml:"url"`

	// Database is the database name to use
	Database string `mapstructure:"database" yaml:"database"`

	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format" yaml:"format"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// AuthEnabled enables JWT authentication on the API
	AuthEnabled bool `mapstructure:"auth_enabled" yaml:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration" yaml:"jwt_expiration"`

	// APIKeyHashes are bcrypt hashes of accepted X-API-Key values (see "kiwi token apikey")
	APIKeyHashes []string `mapstructure:"api_key_hashes" yaml:"api_key_hashes"`

	// SessionTTL cancels auth sessions nobody completed within this duration
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for kiwi.yaml in standard locations.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("kiwi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.kiwi")
		v.AddConfigPath("/etc/kiwi")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit path that does not exist falls back to defaults;
		// any other read error is fatal.
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("KIWI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = c
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("backend.url", "http://localhost:8000/api/actions")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", "60s")

	v.SetDefault("credentials.store", "memory")
	v.SetDefault("credentials.path", "./kiwi-credentials.db")
	v.SetDefault("credentials.upsert_policy", "insert_only")

	v.SetDefault("polling.backup_interval", "3s")
	v.SetDefault("polling.restore_interval", "5s")
	v.SetDefault("polling.install_interval", "2s")
	v.SetDefault("polling.backup_timeout", "30m")
	v.SetDefault("polling.restore_timeout", "60m")
	v.SetDefault("polling.install_timeout", "20m")
	v.SetDefault("polling.max_fetch_errors", 5)

	v.SetDefault("ssh.known_hosts_file", "$HOME/.ssh/known_hosts")
	v.SetDefault("ssh.insecure_ignore_host_key", false)
	v.SetDefault("ssh.connect_timeout", "10s")

	v.SetDefault("couchdb.enabled", false)
	v.SetDefault("couchdb.url", "http://localhost:5984")
	v.SetDefault("couchdb.database", "kiwi")
	v.SetDefault("couchdb.username", "admin")
	v.SetDefault("couchdb.password", "password")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")
	v.SetDefault("security.api_key_hashes", []string{})
	v.SetDefault("security.session_ttl", "15m")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Backend.URL == "" {
		return fmt.Errorf("backend url is required")
	}

	switch cfg.Credentials.Store {
	case "memory":
	case "sqlite":
		if cfg.Credentials.Path == "" {
			return fmt.Errorf("credentials path is required for sqlite store")
		}
	default:
		return fmt.Errorf("invalid credentials store: %q (want memory or sqlite)", cfg.Credentials.Store)
	}

	switch cfg.Credentials.UpsertPolicy {
	case "insert_only", "overwrite":
	default:
		return fmt.Errorf("invalid credentials upsert_policy: %q (want insert_only or overwrite)", cfg.Credentials.UpsertPolicy)
	}

	if cfg.Polling.BackupInterval <= 0 || cfg.Polling.RestoreInterval <= 0 || cfg.Polling.InstallInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}

	if cfg.Polling.MaxFetchErrors < 1 {
		return fmt.Errorf("polling max_fetch_errors must be at least 1")
	}

	if cfg.CouchDB.Enabled {
		if cfg.CouchDB.URL == "" {
			return fmt.Errorf("couchdb url is required")
		}
		if cfg.CouchDB.Database == "" {
			return fmt.Errorf("couchdb database is required")
		}
	}

	if cfg.Security.AuthEnabled && cfg.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required when auth is enabled")
	}

	return nil
}

// Get returns the configuration loaded by the last successful Load.
func Get() *Config {
	return cfg
}

// KnownHostsPath expands $HOME and environment references in the known_hosts path.
func (c *SSHConfig) KnownHostsPath() string {
	return os.ExpandEnv(c.KnownHostsFile)
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
