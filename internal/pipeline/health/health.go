// Package health provides independent health probes and aggregated
// status reporting for external health endpoints.
package health

import "time"

// CheckResult is the outcome of one health probe.
type CheckResult struct {
	Healthy      bool           `json:"healthy"`
	Component    string         `json:"component"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	ResponseTime time.Duration  `json:"response_time_ms"`
	Details      map[string]any `json:"details,omitempty"`
}

// SystemHealth summarizes all registered checks.
type SystemHealth struct {
	Healthy        bool                   `json:"healthy"`
	HealthyCount   int                    `json:"healthy_count"`
	UnhealthyCount int                    `json:"unhealthy_count"`
	Checks         map[string]CheckResult `json:"checks"`
	Timestamp      time.Time              `json:"timestamp"`
}
