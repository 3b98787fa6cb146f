package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for store operations.
var (
	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subvault_store_errors_total",
		Help: "Total store operation errors by operation",
	}, []string{"operation"})

	storeWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subvault_store_writes_total",
		Help: "Total store writes by record type",
	}, []string{"type"})
)

// RedisStore persists checkpoints and results in Redis.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. TTL bounds how long records
// outlive a job; zero keeps them forever.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: "subvault",
		ttl:    ttl,
	}
}

func (s *RedisStore) checkpointKey(jobID string, workerID int) string {
	return fmt.Sprintf("%s:%s:checkpoint:%d", s.prefix, jobID, workerID)
}

func (s *RedisStore) resultsKey(jobID string, workerID int) string {
	return fmt.Sprintf("%s:%s:results:%d", s.prefix, jobID, workerID)
}

// SaveCheckpoint implements CheckpointStore.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		storeErrorsTotal.WithLabelValues("save_checkpoint").Inc()
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.redis.Set(ctx, s.checkpointKey(cp.JobID, cp.WorkerID), payload, s.ttl).Err(); err != nil {
		storeErrorsTotal.WithLabelValues("save_checkpoint").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	storeWritesTotal.WithLabelValues("checkpoint").Inc()
	return nil
}

// LoadCheckpoint implements CheckpointStore.
func (s *RedisStore) LoadCheckpoint(ctx context.Context, jobID string, workerID int) (*Checkpoint, error) {
	data, err := s.redis.Get(ctx, s.checkpointKey(jobID, workerID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		storeErrorsTotal.WithLabelValues("load_checkpoint").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		storeErrorsTotal.WithLabelValues("load_checkpoint").Inc()
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	return &cp, nil
}

// DeleteCheckpoint implements CheckpointStore.
func (s *RedisStore) DeleteCheckpoint(ctx context.Context, jobID string, workerID int) error {
	if err := s.redis.Del(ctx, s.checkpointKey(jobID, workerID)).Err(); err != nil {
		storeErrorsTotal.WithLabelValues("delete_checkpoint").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// SaveResults implements ResultStore.
func (s *RedisStore) SaveResults(ctx context.Context, jobID string, workerID int, payload []byte) error {
	if err := s.redis.Set(ctx, s.resultsKey(jobID, workerID), payload, s.ttl).Err(); err != nil {
		storeErrorsTotal.WithLabelValues("save_results").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	storeWritesTotal.WithLabelValues("results").Inc()
	return nil
}

// LoadResults implements ResultStore.
func (s *RedisStore) LoadResults(ctx context.Context, jobID string, workerID int) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.resultsKey(jobID, workerID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		storeErrorsTotal.WithLabelValues("load_results").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// ListWorkers implements ResultStore.
func (s *RedisStore) ListWorkers(ctx context.Context, jobID string) ([]int, error) {
	pattern := fmt.Sprintf("%s:%s:results:*", s.prefix, jobID)

	var workers []int
	iter := s.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		idx := strings.LastIndex(key, ":")
		if idx < 0 {
			continue
		}
		workerID, err := strconv.Atoi(key[idx+1:])
		if err != nil {
			continue
		}
		workers = append(workers, workerID)
	}
	if err := iter.Err(); err != nil {
		storeErrorsTotal.WithLabelValues("list_workers").Inc()
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	sort.Ints(workers)
	return workers, nil
}
