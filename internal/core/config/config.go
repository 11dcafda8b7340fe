package config

import (
	"time"

	"github.com/hxann/curator/internal/core/domain"
	redisclient "github.com/hxann/curator/internal/infra/redis"
	"github.com/hxann/curator/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Pipeline    PipelineConfig     `yaml:"pipeline"`
	Retry       RetryConfig        `yaml:"retry"`
	Breaker     BreakerConfig      `yaml:"circuit_breaker"`
	Degradation DegradationConfig  `yaml:"degradation"`
	Phases      PhasesConfig       `yaml:"phases"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PipelineConfig holds run-level settings.
type PipelineConfig struct {
	Version     string         `yaml:"version"`
	StatePath   string         `yaml:"state_path"`
	Concurrency int            `yaml:"concurrency"`
	SkipPhases  []domain.Phase `yaml:"skip_phases"`
}

// RetryConfig holds backoff settings shared by all phases.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       *bool         `yaml:"jitter"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// BreakerConfig holds circuit breaker thresholds shared by all resources.
type BreakerConfig struct {
	FailureThreshold          int           `yaml:"failure_threshold"`
	ResetTimeout              time.Duration `yaml:"reset_timeout"`
	MonitoringPeriod          time.Duration `yaml:"monitoring_period"`
	SlowCallThreshold         int           `yaml:"slow_call_threshold"`
	SlowCallDurationThreshold time.Duration `yaml:"slow_call_duration_threshold"`
	MinimumNumberOfCalls      int           `yaml:"minimum_number_of_calls"`
}

// DegradationConfig names the services the pipeline cannot run without.
type DegradationConfig struct {
	MinimumRequired []string `yaml:"minimum_required"`
}

// PhasesConfig holds the per-phase external tool settings.
type PhasesConfig struct {
	Collect CollectConfig `yaml:"collect"`
	Distill ToolConfig    `yaml:"distill"`
	Package ToolConfig    `yaml:"package"`
	Bundle  ToolConfig    `yaml:"bundle"`
}

// CollectConfig holds settings for the HTTP collection phase.
type CollectConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	SkipOnFailure bool          `yaml:"skip_on_failure"`
}

// ToolConfig holds settings for a phase backed by an external command.
type ToolConfig struct {
	Command       string        `yaml:"command"`
	Args          []string      `yaml:"args"`
	Timeout       time.Duration `yaml:"timeout"`
	SkipOnFailure bool          `yaml:"skip_on_failure"`
	Required      bool          `yaml:"required"`
}
