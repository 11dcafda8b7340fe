// Package storage defines the repository interfaces backing the failed
// work-item retry queue.
package storage

import (
	"context"

	"github.com/hxann/curator/internal/core/domain"
)

// FailedSourceRepository queues failed work items for a later retry pass.
// Items with the fewest retries are returned first.
type FailedSourceRepository interface {
	// Add queues a failed work item.
	Add(ctx context.Context, fs *domain.FailedSource) error

	// GetNext returns the pending item with the lowest retry count, or
	// nil when the queue is empty.
	GetNext(ctx context.Context) (*domain.FailedSource, error)

	// IncrementRetry bumps the retry count and last-attempt time.
	IncrementRetry(ctx context.Context, id string) error

	// MarkResolved removes a recovered item from the queue.
	MarkResolved(ctx context.Context, id string) error

	// Count returns the number of pending items.
	Count(ctx context.Context) (int, error)

	// Clear removes everything from the queue. Operator action.
	Clear(ctx context.Context) error
}
