package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hxann/curator/internal/resilience/fault"
)

// CheckFunc probes one component. Returned details are attached to the
// result; an error (or panic) marks the component unhealthy.
type CheckFunc func(ctx context.Context) (details map[string]any, err error)

// Manager runs named, independent health probes and aggregates them.
// A broken check never crashes the aggregator.
type Manager struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	log    *slog.Logger
}

// NewManager creates an empty health check manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{checks: make(map[string]CheckFunc), log: log}
}

// Register adds a named health check.
func (m *Manager) Register(name string, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = fn
}

// Run executes one check by name.
func (m *Manager) Run(ctx context.Context, name string) CheckResult {
	m.mu.RLock()
	fn, ok := m.checks[name]
	m.mu.RUnlock()

	if !ok {
		return CheckResult{
			Healthy:   false,
			Component: name,
			Message:   "no such health check",
			Timestamp: time.Now(),
		}
	}
	return m.execute(ctx, name, fn)
}

func (m *Manager) execute(ctx context.Context, name string, fn CheckFunc) (result CheckResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			f := fault.Classify(fmt.Errorf("health check panic: %v", r), name)
			m.log.Error("health check panicked", "check", name, "panic", r)
			result = CheckResult{
				Healthy:      false,
				Component:    name,
				Message:      f.Error(),
				Timestamp:    time.Now(),
				ResponseTime: time.Since(start),
			}
		}
	}()

	details, err := fn(ctx)
	result = CheckResult{
		Healthy:      err == nil,
		Component:    name,
		Timestamp:    time.Now(),
		ResponseTime: time.Since(start),
		Details:      details,
	}
	if err != nil {
		f := fault.Classify(err, name)
		result.Message = f.Error()
	} else {
		result.Message = "ok"
	}
	return result
}

// RunAll executes every registered check in parallel.
func (m *Manager) RunAll(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			res := m.execute(ctx, name, fn)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()
	return results
}

// SystemHealth runs all checks and summarizes healthy/unhealthy counts.
func (m *Manager) SystemHealth(ctx context.Context) SystemHealth {
	results := m.RunAll(ctx)

	sh := SystemHealth{
		Checks:    results,
		Timestamp: time.Now(),
	}
	for _, res := range results {
		if res.Healthy {
			sh.HealthyCount++
		} else {
			sh.UnhealthyCount++
		}
	}
	sh.Healthy = sh.UnhealthyCount == 0
	return sh
}
