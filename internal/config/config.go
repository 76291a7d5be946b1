// Package config loads the service configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/metergate/walletledger/internal/pricing"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no path is given via flag or environment.
const DefaultConfigPath = "config.yaml"

// configPathEnv overrides the config file location.
const configPathEnv = "WALLETLEDGER_CONFIG"

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Billing  BillingConfig  `yaml:"billing"`
	Admin    AdminConfig    `yaml:"admin"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `yaml:"listen"` // Listen address, e.g. ":8317".
}

// DatabaseConfig holds the database DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // SQLite path or PostgreSQL DSN.
}

// RedisConfig holds optional status-cache settings. An empty Addr disables
// the cache entirely.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	StatusTTL string `yaml:"status_ttl"` // Cache TTL, e.g. "30s".
}

// StatusTTLDuration parses StatusTTL, defaulting to 30 seconds.
func (r RedisConfig) StatusTTLDuration() time.Duration {
	if d, errParse := time.ParseDuration(strings.TrimSpace(r.StatusTTL)); errParse == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// BillingConfig holds the margin multiplier and price-table overrides.
type BillingConfig struct {
	Margin float64                                  `yaml:"margin"`
	Prices map[string]map[string]pricing.ModelPrice `yaml:"prices"`
}

// AdminConfig guards the provisioning endpoints.
type AdminConfig struct {
	Token string `yaml:"token"` // Bearer token required by /v0/admin routes.
}

// LogConfig controls log level and optional rotating file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Listen: ":8317"},
		Database: DatabaseConfig{DSN: "file:data/walletledger.db"},
		Billing:  BillingConfig{Margin: pricing.DefaultMargin},
		Log:      LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28, Compress: true},
	}
}

// ResolveConfigPath picks the config file path: explicit argument first,
// then the environment override, then the default location.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if fromEnv := strings.TrimSpace(os.Getenv(configPathEnv)); fromEnv != "" {
		return fromEnv
	}
	return DefaultConfigPath
}

// Load reads and parses the config file at path, applying defaults for
// unset fields. A missing file at the default location is not an error;
// the defaults are returned instead.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved := ResolveConfigPath(path)
	data, errRead := os.ReadFile(resolved)
	if errRead != nil {
		if os.IsNotExist(errRead) && strings.TrimSpace(path) == "" {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", resolved, errRead)
	}

	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", resolved, errUnmarshal)
	}

	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":8317"
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = "file:data/walletledger.db"
	}
	if cfg.Billing.Margin <= 0 {
		cfg.Billing.Margin = pricing.DefaultMargin
	}
	return cfg, nil
}
