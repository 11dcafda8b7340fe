package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hxann/curator/internal/core/domain"
)

// FailedSourceRepo implements storage.FailedSourceRepository using Redis.
// A sorted set orders pending items by retry count; payloads live in
// plain keys with a 24h TTL.
type FailedSourceRepo struct {
	rdb       *redis.Client
	namespace string
}

// NewFailedSourceRepo creates a Redis-backed failed source repository.
func NewFailedSourceRepo(client *Client, namespace string) *FailedSourceRepo {
	return &FailedSourceRepo{rdb: client.rdb, namespace: namespace}
}

const payloadTTL = 24 * time.Hour

// Key helpers
func (r *FailedSourceRepo) queueKey() string {
	return fmt.Sprintf("failed_sources:%s", r.namespace)
}

func (r *FailedSourceRepo) itemKey(id string) string {
	return fmt.Sprintf("failed_source:%s:%s", r.namespace, id)
}

// Add queues a failed work item. Score is the retry count, so the least
// retried items come back first.
func (r *FailedSourceRepo) Add(ctx context.Context, fs *domain.FailedSource) error {
	data, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("failed to marshal failed source: %w", err)
	}

	if err := r.rdb.Set(ctx, r.itemKey(fs.ID), data, payloadTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed source: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, r.queueKey(), redis.Z{
		Score:  float64(fs.RetryCount),
		Member: fs.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}

	return nil
}

// GetNext retrieves the pending item with the lowest retry count.
func (r *FailedSourceRepo) GetNext(ctx context.Context) (*domain.FailedSource, error) {
	results, err := r.rdb.ZRange(ctx, r.queueKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	id := results[0]

	data, err := r.rdb.Get(ctx, r.itemKey(id)).Bytes()
	if err == redis.Nil {
		// Payload expired but ID still queued, drop it.
		r.rdb.ZRem(ctx, r.queueKey(), id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed source: %w", err)
	}

	var fs domain.FailedSource
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed source: %w", err)
	}

	return &fs, nil
}

// IncrementRetry bumps the retry count, pushing the item down the queue.
func (r *FailedSourceRepo) IncrementRetry(ctx context.Context, id string) error {
	data, err := r.rdb.Get(ctx, r.itemKey(id)).Bytes()
	if err != nil {
		return fmt.Errorf("failed to get failed source: %w", err)
	}

	var fs domain.FailedSource
	if err := json.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("failed to unmarshal failed source: %w", err)
	}

	fs.RetryCount++
	fs.LastAttempt = time.Now()

	newData, err := json.Marshal(&fs)
	if err != nil {
		return fmt.Errorf("failed to marshal failed source: %w", err)
	}
	if err := r.rdb.Set(ctx, r.itemKey(id), newData, payloadTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed source: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, r.queueKey(), redis.Z{
		Score:  float64(fs.RetryCount),
		Member: id,
	}).Err(); err != nil {
		return fmt.Errorf("failed to update queue score: %w", err)
	}
	return nil
}

// MarkResolved removes a recovered item from the queue.
func (r *FailedSourceRepo) MarkResolved(ctx context.Context, id string) error {
	if err := r.rdb.ZRem(ctx, r.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("zrem failed: %w", err)
	}
	if err := r.rdb.Del(ctx, r.itemKey(id)).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

// Count returns the number of pending items.
func (r *FailedSourceRepo) Count(ctx context.Context) (int, error) {
	n, err := r.rdb.ZCard(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}

// Clear removes the whole queue. Payload keys expire via TTL.
func (r *FailedSourceRepo) Clear(ctx context.Context) error {
	ids, err := r.rdb.ZRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange failed: %w", err)
	}
	for _, id := range ids {
		r.rdb.Del(ctx, r.itemKey(id))
	}
	return r.rdb.Del(ctx, r.queueKey()).Err()
}
