// Package config loads and validates the gateway daemon configuration
// from file, environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete objgw configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (OBJGW_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Cache sizes the handle cache structures
	Cache CacheConfig `mapstructure:"cache"`

	// Engine selects the backend engine and its settings
	Engine EngineConfig `mapstructure:"engine"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// CacheConfig sizes the handle cache. Zero fields fall back to the
// gateway's built-in geometry.
type CacheConfig struct {
	// Partitions is the number of independently latched index shards
	Partitions int `mapstructure:"partitions" validate:"gte=0"`

	// Lanes is the number of independently locked LRU lanes
	Lanes int `mapstructure:"lanes" validate:"gte=0"`

	// LaneHighWater is the per-lane entry count that triggers reclamation
	LaneHighWater int `mapstructure:"lane_hiwat" validate:"gte=0"`
}

// EngineConfig selects the backend engine.
//
// The Type field determines which engine implementation is used; only
// the matching type-specific section is consulted.
type EngineConfig struct {
	// Type specifies which engine implementation to use
	// Valid values: memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory s3"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics HTTP listener on
	Enabled bool `mapstructure:"enabled"`

	// Listen is the host:port the metrics endpoint binds to
	Listen string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath uses the default location under the user config
// directory; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable and config file handling.
func setupViper(v *viper.Viper, configPath string) {
	// Example: OBJGW_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("OBJGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicitly named file that is missing should fail loudly.
		if os.IsNotExist(err) && v.ConfigFileUsed() == "" {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "objgw")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "objgw")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
