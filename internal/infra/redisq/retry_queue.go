package redisq

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vuongtran/cardetl/internal/core/domain"
)

// RetryQueue holds the failed units of a run as a sorted set, scored
// by failure count so the least-failed units pop first.
type RetryQueue struct {
	rdb   *redis.Client
	runID string
}

// NewRetryQueue scopes a queue to one run.
func NewRetryQueue(client *Client, runID string) *RetryQueue {
	return &RetryQueue{rdb: client.rdb, runID: runID}
}

func (q *RetryQueue) key() string {
	return fmt.Sprintf("backfill:retry:%s", q.runID)
}

// Push adds a failed unit with its failure count as score. Re-pushing
// updates the score, so the set stays deduplicated.
func (q *RetryQueue) Push(ctx context.Context, unit domain.Unit, failures int) error {
	err := q.rdb.ZAdd(ctx, q.key(), redis.Z{
		Score:  float64(failures),
		Member: string(unit),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// Pop removes and returns the unit with the lowest failure count.
// found is false when the queue is empty.
func (q *RetryQueue) Pop(ctx context.Context) (unit domain.Unit, found bool, err error) {
	results, err := q.rdb.ZRange(ctx, q.key(), 0, 0).Result()
	if err != nil {
		return "", false, fmt.Errorf("zrange failed: %w", err)
	}
	if len(results) == 0 {
		return "", false, nil
	}

	member := results[0]
	if err := q.rdb.ZRem(ctx, q.key(), member).Err(); err != nil {
		return "", false, fmt.Errorf("zrem failed: %w", err)
	}

	u, err := domain.ParseUnit(member)
	if err != nil {
		return "", false, fmt.Errorf("invalid unit in queue: %w", err)
	}
	return u, true, nil
}

// All returns every queued unit, least-failed first.
func (q *RetryQueue) All(ctx context.Context) ([]domain.Unit, error) {
	members, err := q.rdb.ZRange(ctx, q.key(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	units := make([]domain.Unit, 0, len(members))
	for _, m := range members {
		u, err := domain.ParseUnit(m)
		if err != nil {
			continue
		}
		units = append(units, u)
	}
	return units, nil
}

// Count returns the queue size.
func (q *RetryQueue) Count(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.key()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}

// Clear drops the run's queue.
func (q *RetryQueue) Clear(ctx context.Context) error {
	return q.rdb.Del(ctx, q.key()).Err()
}
