package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a temporary YAML config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
cache:
  partitions: 11
  lanes: 5
  lane_hiwat: 200
engine:
  type: s3
  s3:
    region: us-east-1
    endpoint: http://localhost:4566
    access_key_id: test
    secret_access_key: test
metrics:
  enabled: true
  listen: ":9191"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 11, cfg.Cache.Partitions)
	assert.Equal(t, 5, cfg.Cache.Lanes)
	assert.Equal(t, 200, cfg.Cache.LaneHighWater)
	assert.Equal(t, "s3", cfg.Engine.Type)
	assert.Equal(t, "us-east-1", cfg.Engine.S3["region"])
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9191", cfg.Metrics.Listen)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Cache.Partitions)
	assert.Equal(t, 3, cfg.Cache.Lanes)
	assert.Equal(t, 123, cfg.Cache.LaneHighWater)
	assert.Equal(t, "memory", cfg.Engine.Type)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv("OBJGW_LOGGING_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "oneof",
		},
		{
			name:    "invalid engine type",
			mutate:  func(c *Config) { c.Engine.Type = "postgres" },
			wantErr: "oneof",
		},
		{
			name:    "negative cache partitions",
			mutate:  func(c *Config) { c.Cache.Partitions = -1 },
			wantErr: "gte",
		},
		{
			name: "s3 without section",
			mutate: func(c *Config) {
				c.Engine.Type = "s3"
			},
			wantErr: "s3 section is empty",
		},
		{
			name: "s3 without region",
			mutate: func(c *Config) {
				c.Engine.Type = "s3"
				c.Engine.S3 = map[string]any{"endpoint": "http://localhost:4566"}
			},
			wantErr: "region is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
