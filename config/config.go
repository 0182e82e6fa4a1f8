// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ENTITYCORE_"

// Config is the root configuration structure.
type Config struct {
	Database  DatabaseConfig          `yaml:"database"`
	Schemas   SchemasConfig           `yaml:"schemas"`
	Plugins   map[string]PluginConfig `yaml:"plugins"`
	Locale    LocaleConfig            `yaml:"locale"`
	Messages  MessagesConfig          `yaml:"messages"`
	Passwords PasswordsConfig         `yaml:"passwords"`
	Logging   LoggingConfig           `yaml:"logging"`
	Metrics   MetricsConfig           `yaml:"metrics"`
}

// DatabaseConfig configures the gateway.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

// SchemasConfig locates the schema documents.
type SchemasConfig struct {
	Dir string `yaml:"dir"`
}

// PluginConfig toggles a plugin. Plugins without an entry are enabled.
type PluginConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// LocaleConfig sets the locale used for identifiers and labels.
type LocaleConfig struct {
	Default string `yaml:"default"` // BCP 47 tag
}

// MessagesConfig locates the YAML message catalogs.
type MessagesConfig struct {
	Dir string `yaml:"dir"` // optional
}

// PasswordsConfig configures password hashing.
type PasswordsConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Textfile  string `yaml:"textfile"` // written on shutdown when set
}

// PluginEnabled reports whether plugin is enabled.
func (c *Config) PluginEnabled(plugin string) bool {
	p, ok := c.Plugins[plugin]
	return !ok || p.Enabled == nil || *p.Enabled
}

// PluginNames returns the configured plugin names, sorted.
func (c *Config) PluginNames() []string {
	names := make([]string, 0, len(c.Plugins))
	for name := range c.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LocaleTag returns the parsed default locale.
func (c *Config) LocaleTag() language.Tag {
	tag, err := language.Parse(c.Locale.Default)
	if err != nil {
		return language.English
	}
	return tag
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds configuration from YAML text.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	ENTITYCORE_DATABASE_DRIVER  - sqlite, postgres or memory (default: sqlite)
//	ENTITYCORE_DATABASE_DSN     - Database path or URL (default: entitycore.db)
//	ENTITYCORE_SCHEMAS_DIR      - Schema directory (default: schemas)
//	ENTITYCORE_MESSAGES_DIR     - Message catalog directory
//	ENTITYCORE_LOCALE           - Default locale (default: en)
//	ENTITYCORE_BCRYPT_COST      - Password hashing cost (default: 10)
//	ENTITYCORE_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	ENTITYCORE_LOG_FORMAT       - Log format: json or console (default: json)
//	ENTITYCORE_METRICS_ENABLED  - Record operation metrics (default: false)
//	ENTITYCORE_METRICS_TEXTFILE - Write metrics to this file on shutdown
//	ENTITYCORE_PLUGIN_<NAME>    - Enable or disable a plugin (on/off)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to environment
// variables otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies ENTITYCORE_* environment variables to the
// config. Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Database configuration
	if v := os.Getenv(EnvPrefix + "DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv(EnvPrefix + "DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv(EnvPrefix + "SCHEMAS_DIR"); v != "" {
		cfg.Schemas.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "MESSAGES_DIR"); v != "" {
		cfg.Messages.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "LOCALE"); v != "" {
		cfg.Locale.Default = v
	}
	if v := os.Getenv(EnvPrefix + "BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Passwords.BcryptCost = n
		}
	}

	// Logging configuration
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv(EnvPrefix + "METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.Textfile = v
	}

	// Plugin toggles
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		name, ok := strings.CutPrefix(key, EnvPrefix+"PLUGIN_")
		if !ok || name == "" {
			continue
		}
		if cfg.Plugins == nil {
			cfg.Plugins = make(map[string]PluginConfig)
		}
		enabled := parseBool(value)
		cfg.Plugins[strings.ToLower(name)] = PluginConfig{Enabled: &enabled}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "entitycore.db"
	}

	if cfg.Schemas.Dir == "" {
		cfg.Schemas.Dir = "schemas"
	}
	if cfg.Locale.Default == "" {
		cfg.Locale.Default = "en"
	}
	if cfg.Passwords.BcryptCost == 0 {
		cfg.Passwords.BcryptCost = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "entitycore"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, memory, got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is 'postgres'")
	}

	if _, err := language.Parse(cfg.Locale.Default); err != nil {
		return fmt.Errorf("locale.default %q: %w", cfg.Locale.Default, err)
	}

	if cfg.Passwords.BcryptCost < 4 || cfg.Passwords.BcryptCost > 31 {
		return fmt.Errorf("passwords.bcrypt_cost must be between 4 and 31, got %d", cfg.Passwords.BcryptCost)
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	for name := range cfg.Plugins {
		if name == "" {
			return fmt.Errorf("plugins: empty plugin name")
		}
	}

	return nil
}
