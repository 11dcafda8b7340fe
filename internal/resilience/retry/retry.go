// Package retry executes unreliable operations with bounded, backed-off
// retries. Failures are classified once and a non-retryable fault aborts
// the sequence immediately.
package retry

import (
	"context"
	"log/slog"
	"time"

	retrylib "github.com/sethvargo/go-retry"

	"github.com/hxann/curator/internal/resilience/fault"
)

// Operation is one unreliable external call.
type Operation func(ctx context.Context) (any, error)

// Manager retries operations until success, a non-retryable fault, or
// attempt exhaustion.
type Manager struct {
	backoff Backoff
	log     *slog.Logger
}

// NewManager creates a retry manager with the given backoff configuration.
func NewManager(backoff Backoff, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if backoff.MaxAttempts < 1 {
		backoff.MaxAttempts = 1
	}
	return &Manager{backoff: backoff, log: log}
}

// Execute runs op, retrying on retryable faults with exponential backoff.
// Total attempts never exceed MaxAttempts; the first non-retryable
// classification aborts without further attempts. The returned error is
// always the last classified fault, annotated with the attempt count.
func (m *Manager) Execute(ctx context.Context, operationName string, op Operation) (any, error) {
	var result any
	attempts := 0

	backoff := retrylib.WithMaxRetries(
		uint64(m.backoff.MaxAttempts-1),
		retrylib.BackoffFunc(func() (time.Duration, bool) {
			return m.backoff.Delay(attempts), false
		}),
	)

	err := retrylib.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		data, opErr := op(ctx)
		if opErr == nil {
			result = data
			return nil
		}

		f := fault.Classify(opErr, operationName)
		if !f.Retryable {
			m.log.Warn("operation failed with non-retryable fault",
				"operation", operationName,
				"category", f.Category,
				"strategy", f.Strategy,
				"attempt", attempts)
			return f
		}

		m.log.Debug("operation failed, will retry",
			"operation", operationName,
			"category", f.Category,
			"attempt", attempts,
			"max_attempts", m.backoff.MaxAttempts)
		return retrylib.RetryableError(f)
	})
	if err != nil {
		f := fault.Classify(err, operationName)
		f.WithContext("attempts", attempts)
		return nil, f
	}

	return result, nil
}
