package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Signing   SigningConfig   `yaml:"signing" envconfig:"SIGNING"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// SecurityConfig contains rate limiting and CORS configuration
type SecurityConfig struct {
	EnableCORS bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains global HTTP rate limiting configuration.
// The per-device daily heartbeat limit is part of LicensingConfig.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	// Backend is "postgres" or "memory"
	Backend string `yaml:"backend" envconfig:"BACKEND"`
	DSN     string `yaml:"dsn" envconfig:"DSN"`
}

// SigningConfig points at the Ed25519 keypair used for entitlement tokens.
// The private key is required by the server; the public key alone is enough
// for verify-only consumers.
type SigningConfig struct {
	PrivateKeyPath string `yaml:"private_key_path" envconfig:"PRIVATE_KEY_PATH"`
	PublicKeyPath  string `yaml:"public_key_path" envconfig:"PUBLIC_KEY_PATH"`
}

// LicensingConfig carries the entitlement policy knobs
type LicensingConfig struct {
	TrialDays               int    `yaml:"trial_days" envconfig:"TRIAL_DAYS"`
	TokenExpiryDays         int    `yaml:"token_expiry_days" envconfig:"TOKEN_EXPIRY_DAYS"`
	MaxDevicesPerKey        int    `yaml:"max_devices_per_key" envconfig:"MAX_DEVICES_PER_KEY"`
	StaleDeviceDays         int    `yaml:"stale_device_days" envconfig:"STALE_DEVICE_DAYS"`
	HeartbeatsPerDay        int    `yaml:"heartbeats_per_day" envconfig:"HEARTBEATS_PER_DAY"`
	LatestVersion           string `yaml:"latest_version" envconfig:"LATEST_VERSION"`
	ForceUpdateBelowVersion string `yaml:"force_update_below_version" envconfig:"FORCE_UPDATE_BELOW_VERSION"`
	ServerMessage           string `yaml:"server_message" envconfig:"SERVER_MESSAGE"`
}

// defaultConfig returns the configuration base. Defaults live here rather
// than in envconfig default tags: envconfig re-applies default tags on
// every Process call for unset env vars, which would overwrite values an
// earlier layer already set.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			EnableCORS: true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/keygate.log",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Signing: SigningConfig{
			PrivateKeyPath: "keys/signing.pem",
			PublicKeyPath:  "keys/signing.pub.pem",
		},
		Licensing: LicensingConfig{
			TrialDays:        30,
			TokenExpiryDays:  30,
			MaxDevicesPerKey: 3,
			StaleDeviceDays:  90,
			HeartbeatsPerDay: 10,
			LatestVersion:    "0.0.0",
		},
	}
}

// Load loads configuration from environment variables layered over an
// optional YAML config file.
func Load() (*Config, error) {
	return LoadFromFile(getConfigFilePath())
}

// LoadFromFile loads configuration in three layers: defaults, then the
// YAML file (if it exists), then environment variables. Later layers win,
// and envconfig only touches fields whose env var is actually set.
func LoadFromFile(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment variables override file values
	if err := envconfig.Process("KEYGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// getConfigFilePath returns the config file location, overridable via env
func getConfigFilePath() string {
	if path := os.Getenv("KEYGATE_CONFIG_FILE"); path != "" {
		return path
	}
	return "keygate.yaml"
}

// validate checks the configuration for invalid values
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.Licensing.TrialDays < 1 {
		return fmt.Errorf("licensing.trial_days must be positive, got %d", c.Licensing.TrialDays)
	}
	if c.Licensing.TokenExpiryDays < 1 {
		return fmt.Errorf("licensing.token_expiry_days must be positive, got %d", c.Licensing.TokenExpiryDays)
	}
	if c.Licensing.MaxDevicesPerKey < 1 {
		return fmt.Errorf("licensing.max_devices_per_key must be positive, got %d", c.Licensing.MaxDevicesPerKey)
	}
	if c.Licensing.StaleDeviceDays < 1 {
		return fmt.Errorf("licensing.stale_device_days must be positive, got %d", c.Licensing.StaleDeviceDays)
	}
	if c.Licensing.HeartbeatsPerDay < 1 {
		return fmt.Errorf("licensing.heartbeats_per_day must be positive, got %d", c.Licensing.HeartbeatsPerDay)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// GetAddress returns the server listen address
func (c *Config) GetAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
