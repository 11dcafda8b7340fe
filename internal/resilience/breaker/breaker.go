// Package breaker guards named unreliable resources with circuit breakers.
// A breaker records rolling success/failure/slowness metrics, opens to
// reject calls fast, half-opens to probe recovery, and closes on a
// successful probe.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hxann/curator/internal/resilience/fault"
)

// State represents circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when a call is rejected without invoking the operation.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker thresholds.
type Config struct {
	FailureThreshold          int
	ResetTimeout              time.Duration
	MonitoringPeriod          time.Duration
	SlowCallThreshold         int
	SlowCallDurationThreshold time.Duration
	MinimumNumberOfCalls      int
}

// DefaultConfig provides balanced settings for most resources.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:          5,
		ResetTimeout:              60 * time.Second,
		MonitoringPeriod:          10 * time.Second,
		SlowCallThreshold:         3,
		SlowCallDurationThreshold: 10 * time.Second,
		MinimumNumberOfCalls:      5,
	}
}

// Metrics is the rolling window recorded while the breaker is closed.
// The window resets every MonitoringPeriod.
type Metrics struct {
	TotalCalls          int           `json:"total_calls"`
	SuccessfulCalls     int           `json:"successful_calls"`
	FailedCalls         int           `json:"failed_calls"`
	SlowCalls           int           `json:"slow_calls"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	WindowStart         time.Time     `json:"window_start"`
}

// Result is the outcome of one call through the breaker.
type Result struct {
	Success  bool
	Data     any
	Err      error
	Duration time.Duration
	State    State
}

// Status is a snapshot of one breaker for the administrative surface.
type Status struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	Metrics         Metrics   `json:"metrics"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// Operation is the wrapped unreliable call.
type Operation func(ctx context.Context) (any, error)

// CircuitBreaker wraps one named resource. Failures in one resource never
// affect the breaker of another.
type CircuitBreaker struct {
	name string
	cfg  Config
	log  *slog.Logger

	mu              sync.Mutex
	state           State
	metrics         Metrics
	totalDuration   time.Duration
	lastFailureTime time.Time
	resetTimer      *time.Timer
	probeInFlight   bool
	forced          bool
}

// New creates a closed circuit breaker for a named resource.
func New(name string, cfg Config, log *slog.Logger) *CircuitBreaker {
	if log == nil {
		log = slog.Default()
	}
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		log:     log,
		state:   StateClosed,
		metrics: Metrics{WindowStart: time.Now()},
	}
}

// Name returns the resource name this breaker guards.
func (b *CircuitBreaker) Name() string { return b.name }

// Execute runs op through the breaker. While open, calls are rejected
// immediately without invoking op. In half-open state exactly one trial
// call is allowed through.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) *Result {
	trial, rejected := b.admit()
	if rejected != nil {
		return rejected
	}

	start := time.Now()
	data, err := op(ctx)
	duration := time.Since(start)

	b.record(trial, err, duration)

	res := &Result{
		Success:  err == nil,
		Data:     data,
		Duration: duration,
		State:    b.State(),
	}
	if err != nil {
		res.Err = fault.Classify(err, b.name)
	}
	return res
}

// admit decides whether the next call may proceed. It returns trial=true
// for the single half-open probe, or a rejection result while open.
func (b *CircuitBreaker) admit() (trial bool, rejected *Result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		// Guard against a stopped or delayed timer: the elapsed reset
		// timeout itself permits the half-open transition.
		if !b.forced && time.Since(b.lastFailureTime) >= b.cfg.ResetTimeout {
			b.toHalfOpenLocked()
		} else {
			return false, b.rejectionLocked()
		}
		fallthrough
	case StateHalfOpen:
		if b.probeInFlight {
			return false, b.rejectionLocked()
		}
		b.probeInFlight = true
		return true, nil
	default: // StateClosed
		b.rolloverWindowLocked()
		return false, nil
	}
}

func (b *CircuitBreaker) rejectionLocked() *Result {
	f := fault.New("circuit breaker "+b.name+" is open, call rejected", fault.CategoryExternalAPI, b.name)
	f.Strategy = fault.StrategyCircuitBreaker
	f.Retryable = false
	f.WithContext("breaker", b.name)
	return &Result{Success: false, Err: f, State: b.state}
}

func (b *CircuitBreaker) record(trial bool, err error, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.probeInFlight = false
		if err == nil {
			b.log.Info("circuit breaker closed after successful probe", "breaker", b.name)
			b.toClosedLocked()
		} else {
			b.log.Warn("circuit breaker probe failed, reopening", "breaker", b.name, "error", err)
			b.toOpenLocked()
		}
		return
	}

	if b.state != StateClosed {
		// The breaker opened (or was forced open) while this call was in
		// flight. Its outcome no longer affects the window.
		return
	}

	b.metrics.TotalCalls++
	b.totalDuration += duration
	b.metrics.AverageResponseTime = b.totalDuration / time.Duration(b.metrics.TotalCalls)
	if duration > b.cfg.SlowCallDurationThreshold {
		b.metrics.SlowCalls++
	}

	if err == nil {
		b.metrics.SuccessfulCalls++
		b.metrics.ConsecutiveFailures = 0
	} else {
		b.metrics.FailedCalls++
		b.metrics.ConsecutiveFailures++
		b.lastFailureTime = time.Now()
	}

	if b.shouldOpenLocked() {
		b.log.Warn("circuit breaker opened",
			"breaker", b.name,
			"consecutive_failures", b.metrics.ConsecutiveFailures,
			"slow_calls", b.metrics.SlowCalls,
			"failed_calls", b.metrics.FailedCalls,
			"total_calls", b.metrics.TotalCalls)
		b.toOpenLocked()
	}
}

func (b *CircuitBreaker) shouldOpenLocked() bool {
	if b.metrics.TotalCalls < b.cfg.MinimumNumberOfCalls {
		return false
	}
	if b.metrics.ConsecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}
	if b.metrics.SlowCalls >= b.cfg.SlowCallThreshold {
		return true
	}
	failureRate := float64(b.metrics.FailedCalls) / float64(b.metrics.TotalCalls)
	return failureRate >= 0.5
}

// rolloverWindowLocked resets the rolling metrics window once the
// monitoring period has elapsed.
func (b *CircuitBreaker) rolloverWindowLocked() {
	if time.Since(b.metrics.WindowStart) >= b.cfg.MonitoringPeriod {
		b.metrics = Metrics{WindowStart: time.Now()}
		b.totalDuration = 0
	}
}

func (b *CircuitBreaker) toOpenLocked() {
	b.state = StateOpen
	b.lastFailureTime = time.Now()
	b.cancelTimerLocked()
	b.resetTimer = time.AfterFunc(b.cfg.ResetTimeout, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.state == StateOpen && !b.forced {
			b.toHalfOpenLocked()
		}
	})
}

func (b *CircuitBreaker) toHalfOpenLocked() {
	b.state = StateHalfOpen
	b.probeInFlight = false
	b.cancelTimerLocked()
	b.log.Info("circuit breaker half-open, allowing one trial call", "breaker", b.name)
}

func (b *CircuitBreaker) toClosedLocked() {
	b.state = StateClosed
	b.forced = false
	b.probeInFlight = false
	b.metrics = Metrics{WindowStart: time.Now()}
	b.totalDuration = 0
	b.cancelTimerLocked()
}

// cancelTimerLocked stops any scheduled half-open transition so a stale
// callback cannot fire after a manual reset or forced open.
func (b *CircuitBreaker) cancelTimerLocked() {
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
}

// Reset returns the breaker to closed with fresh metrics. Operator action.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.Info("circuit breaker reset", "breaker", b.name)
	b.toClosedLocked()
}

// ForceOpen opens the breaker and keeps it open until an explicit Reset.
// No half-open transition is scheduled.
func (b *CircuitBreaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.Warn("circuit breaker forced open", "breaker", b.name)
	b.state = StateOpen
	b.forced = true
	b.lastFailureTime = time.Now()
	b.cancelTimerLocked()
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for the administrative surface.
func (b *CircuitBreaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:            b.name,
		State:           b.state,
		Metrics:         b.metrics,
		LastFailureTime: b.lastFailureTime,
	}
}
