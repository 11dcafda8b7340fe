// Package memory provides in-memory repository implementations for
// Redis-less runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hxann/curator/internal/core/domain"
)

// FailedSourceRepo is an in-memory FailedSourceRepository.
type FailedSourceRepo struct {
	mu    sync.Mutex
	items map[string]*domain.FailedSource
}

// NewFailedSourceRepo creates an empty repo.
func NewFailedSourceRepo() *FailedSourceRepo {
	return &FailedSourceRepo{items: make(map[string]*domain.FailedSource)}
}

func (r *FailedSourceRepo) Add(ctx context.Context, fs *domain.FailedSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *fs
	r.items[fs.ID] = &c
	return nil
}

func (r *FailedSourceRepo) GetNext(ctx context.Context) (*domain.FailedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *domain.FailedSource
	for _, item := range r.items {
		if item.Status != domain.FailedSourceStatusPending {
			continue
		}
		if next == nil || item.RetryCount < next.RetryCount {
			next = item
		}
	}
	if next == nil {
		return nil, nil
	}
	c := *next
	return &c, nil
}

func (r *FailedSourceRepo) IncrementRetry(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.items[id]; ok {
		item.RetryCount++
		item.LastAttempt = time.Now()
	}
	return nil
}

func (r *FailedSourceRepo) MarkResolved(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *FailedSourceRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, item := range r.items {
		if item.Status == domain.FailedSourceStatusPending {
			n++
		}
	}
	return n, nil
}

func (r *FailedSourceRepo) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]*domain.FailedSource)
	return nil
}
