package config

import "strings"

// ApplyDefaults fills unspecified fields with the values the gateway is
// normally operated with. Zero values are replaced; explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyCacheDefaults(&cfg.Cache)
	applyEngineDefaults(&cfg.Engine)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Partitions == 0 {
		cfg.Partitions = 7
	}
	if cfg.Lanes == 0 {
		cfg.Lanes = 3
	}
	if cfg.LaneHighWater == 0 {
		cfg.LaneHighWater = 123
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":9090"
	}
}
