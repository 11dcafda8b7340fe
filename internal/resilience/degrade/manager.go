// Package degrade tracks per-service health and decides whether the
// pipeline may keep running as dependencies fail. Health checks answer
// "is X currently reachable"; degradation answers "should the pipeline
// keep running".
package degrade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hxann/curator/internal/resilience/fault"
)

// Level is the system-wide degradation summary.
type Level string

const (
	LevelNone        Level = "none"
	LevelMinimal     Level = "minimal"
	LevelPartial     Level = "partial"
	LevelSignificant Level = "significant"
	LevelCritical    Level = "critical"
)

// ServiceHealth is the tracked state for one dependent service.
type ServiceHealth struct {
	Healthy             bool      `json:"healthy"`
	LastCheckTime       time.Time `json:"last_check_time"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Context is the recomputed, never-persisted degradation summary.
type Context struct {
	Level          Level    `json:"level"`
	Strategy       string   `json:"strategy"`
	ActiveServices []string `json:"active_services"`
	FailedServices []string `json:"failed_services"`
	Failures       []string `json:"failures"`
}

// Options controls how Execute reacts to a failure.
type Options struct {
	AllowDegradation bool
	FallbackData     any
	SkipOnFailure    bool
	Required         bool
}

// Result is the outcome of an operation executed with degradation policy.
type Result struct {
	Success  bool
	Data     any
	Degraded bool
	Strategy fault.Strategy
	Err      error
}

// Operation is the wrapped unreliable call.
type Operation func(ctx context.Context) (any, error)

// Fallback produces substitute data when a service is unavailable.
type Fallback func(ctx context.Context) (any, error)

// Manager tracks service health and executes operations with
// fallback/skip/abort policy.
type Manager struct {
	mu        sync.RWMutex
	services  map[string]*ServiceHealth
	fallbacks map[string]Fallback
	required  map[string]bool
	level     Level
	log       *slog.Logger
}

// NewManager creates a manager. Services in minimumRequired force the
// level to critical whenever they are unhealthy, regardless of the
// overall failure rate.
func NewManager(minimumRequired []string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	required := make(map[string]bool, len(minimumRequired))
	for _, name := range minimumRequired {
		required[name] = true
	}
	return &Manager{
		services:  make(map[string]*ServiceHealth),
		fallbacks: make(map[string]Fallback),
		required:  required,
		level:     LevelNone,
		log:       log,
	}
}

// RegisterService adds a service to the health map as healthy.
func (m *Manager) RegisterService(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[name]; !ok {
		m.services[name] = &ServiceHealth{Healthy: true, LastCheckTime: time.Now()}
		m.recomputeLocked()
	}
}

// RegisterFallback registers a fallback function for a service.
func (m *Manager) RegisterFallback(name string, fb Fallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[name] = fb
}

// ReportFailure marks a service unhealthy and recomputes the level.
func (m *Manager) ReportFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[name]
	if !ok {
		svc = &ServiceHealth{}
		m.services[name] = svc
	}
	svc.Healthy = false
	svc.LastCheckTime = time.Now()
	svc.ConsecutiveFailures++
	if err != nil {
		svc.LastError = err.Error()
	}

	m.recomputeLocked()
	m.log.Warn("service failure reported",
		"service", name,
		"consecutive_failures", svc.ConsecutiveFailures,
		"degradation_level", m.level)
}

// ReportRecovery marks a service healthy and recomputes the level.
func (m *Manager) ReportRecovery(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[name]
	if !ok {
		svc = &ServiceHealth{}
		m.services[name] = svc
	}
	wasUnhealthy := !svc.Healthy && svc.ConsecutiveFailures > 0
	svc.Healthy = true
	svc.LastCheckTime = time.Now()
	svc.ConsecutiveFailures = 0
	svc.LastError = ""

	m.recomputeLocked()
	if wasUnhealthy {
		m.log.Info("service recovered", "service", name, "degradation_level", m.level)
	}
}

// recomputeLocked maps the current failure rate to a level, forcing
// critical when any minimum-required service is unhealthy.
func (m *Manager) recomputeLocked() {
	total := len(m.services)
	if total == 0 {
		m.level = LevelNone
		return
	}

	unhealthy := 0
	requiredDown := false
	for name, svc := range m.services {
		if !svc.Healthy {
			unhealthy++
			if m.required[name] {
				requiredDown = true
			}
		}
	}

	if requiredDown {
		m.level = LevelCritical
		return
	}

	rate := float64(unhealthy) / float64(total)
	switch {
	case rate == 0:
		m.level = LevelNone
	case rate < 0.2:
		m.level = LevelMinimal
	case rate < 0.5:
		m.level = LevelPartial
	case rate < 0.8:
		m.level = LevelSignificant
	default:
		m.level = LevelCritical
	}
}

// Execute runs op with the degradation policy for serviceName. On failure
// it tries, in order: a registered fallback, caller-supplied fallback
// data, skip. Required services and calls that disallow degradation abort
// immediately.
func (m *Manager) Execute(
	ctx context.Context,
	serviceName string,
	operationName string,
	opts Options,
	op Operation,
) *Result {
	data, err := op(ctx)
	if err == nil {
		m.ReportRecovery(serviceName)
		return &Result{Success: true, Data: data}
	}

	f := fault.Classify(err, operationName)
	m.ReportFailure(serviceName, f)

	if opts.Required || !opts.AllowDegradation {
		return &Result{Success: false, Strategy: fault.StrategyAbort, Err: f}
	}

	m.mu.RLock()
	fb := m.fallbacks[serviceName]
	m.mu.RUnlock()

	if fb != nil {
		fbData, fbErr := fb(ctx)
		if fbErr == nil {
			m.log.Info("operation degraded to registered fallback",
				"service", serviceName, "operation", operationName)
			return &Result{Success: true, Data: fbData, Degraded: true, Strategy: fault.StrategyFallback}
		}
		m.log.Warn("registered fallback failed",
			"service", serviceName, "operation", operationName, "error", fbErr)
	}

	if opts.FallbackData != nil {
		m.log.Info("operation degraded to caller fallback data",
			"service", serviceName, "operation", operationName)
		return &Result{Success: true, Data: opts.FallbackData, Degraded: true, Strategy: fault.StrategyFallback}
	}

	if opts.SkipOnFailure {
		m.log.Info("operation skipped under degradation",
			"service", serviceName, "operation", operationName)
		return &Result{Success: true, Degraded: true, Strategy: fault.StrategyIgnore}
	}

	return &Result{Success: false, Strategy: fault.StrategyAbort, Err: f}
}

// CanContinue reports whether the pipeline may start new work. Phase
// runners must check this before each phase and halt the run when false.
func (m *Manager) CanContinue() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.level == LevelCritical {
		return false
	}
	for name := range m.required {
		if svc, ok := m.services[name]; ok && !svc.Healthy {
			return false
		}
	}
	return true
}

// Level returns the current degradation level.
func (m *Manager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// GetContext returns the current degradation context, rebuilt from the
// live service-health map.
func (m *Manager) GetContext() Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := Context{
		Level:    m.level,
		Strategy: strategyFor(m.level),
	}
	for name, svc := range m.services {
		if svc.Healthy {
			ctx.ActiveServices = append(ctx.ActiveServices, name)
		} else {
			ctx.FailedServices = append(ctx.FailedServices, name)
			ctx.Failures = append(ctx.Failures,
				fmt.Sprintf("%s: %s (%d consecutive failures)", name, svc.LastError, svc.ConsecutiveFailures))
		}
	}
	sort.Strings(ctx.ActiveServices)
	sort.Strings(ctx.FailedServices)
	sort.Strings(ctx.Failures)
	return ctx
}

// Summary is the shape consumed by the external health endpoint.
type Summary struct {
	Level       Level                     `json:"level"`
	Strategy    string                    `json:"strategy"`
	CanContinue bool                      `json:"can_continue"`
	Services    map[string]ServiceHealth  `json:"services"`
	Failures    []string                  `json:"failures,omitempty"`
}

// GetSystemHealthSummary reports degradation state for external callers.
func (m *Manager) GetSystemHealthSummary() Summary {
	dctx := m.GetContext()

	m.mu.RLock()
	services := make(map[string]ServiceHealth, len(m.services))
	for name, svc := range m.services {
		services[name] = *svc
	}
	m.mu.RUnlock()

	return Summary{
		Level:       dctx.Level,
		Strategy:    dctx.Strategy,
		CanContinue: m.CanContinue(),
		Services:    services,
		Failures:    dctx.Failures,
	}
}

func strategyFor(level Level) string {
	switch level {
	case LevelNone:
		return "normal_operation"
	case LevelMinimal:
		return "continue_with_monitoring"
	case LevelPartial:
		return "use_fallbacks"
	case LevelSignificant:
		return "skip_non_essential"
	default:
		return "halt_pipeline"
	}
}
