package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration usable without a config file.
func Default() *AppConfig {
	var cfg AppConfig
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Pipeline.Version == "" {
		cfg.Pipeline.Version = "1.0.0"
	}
	if cfg.Pipeline.StatePath == "" {
		cfg.Pipeline.StatePath = "pipeline-state.json"
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 4
	}

	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}
	if cfg.Retry.Jitter == nil {
		jitter := true
		cfg.Retry.Jitter = &jitter
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = 60 * time.Second
	}
	if cfg.Breaker.MonitoringPeriod == 0 {
		cfg.Breaker.MonitoringPeriod = 10 * time.Second
	}
	if cfg.Breaker.SlowCallThreshold == 0 {
		cfg.Breaker.SlowCallThreshold = 3
	}
	if cfg.Breaker.SlowCallDurationThreshold == 0 {
		cfg.Breaker.SlowCallDurationThreshold = 10 * time.Second
	}
	if cfg.Breaker.MinimumNumberOfCalls == 0 {
		cfg.Breaker.MinimumNumberOfCalls = 5
	}

	if cfg.Phases.Collect.Timeout == 0 {
		cfg.Phases.Collect.Timeout = 30 * time.Second
	}
	if cfg.Phases.Distill.Timeout == 0 {
		cfg.Phases.Distill.Timeout = 5 * time.Minute
	}
	if cfg.Phases.Package.Timeout == 0 {
		cfg.Phases.Package.Timeout = 2 * time.Minute
	}
	if cfg.Phases.Bundle.Timeout == 0 {
		cfg.Phases.Bundle.Timeout = 2 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
