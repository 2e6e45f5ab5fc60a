package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

var _ Backend = (*RedisStore)(nil)

// DefaultKeyPrefix namespaces every key the Redis tier writes.
const DefaultKeyPrefix = "planner:itinerary:"

// RedisStore is the flat key-value tier backed by Redis. Records are stored
// as JSON strings.
type RedisStore struct {
	logger *zap.Logger
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store writing under prefix. A zero ttl keeps keys
// until deleted.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{logger: logger, client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Name() string { return "redis" }

// Put compares versions inside a WATCH transaction, so a concurrent writer
// makes the write fail instead of interleaving.
func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	key := s.prefix + rec.Key
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var prev Record
			if err := json.Unmarshal([]byte(cur), &prev); err == nil && prev.Version > rec.Version {
				return staleWrite(rec, prev.Version)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(raw), s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrConflict):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("record %s changed during write: %w", rec.Key, models.ErrConflict)
	}
	s.logger.Error("Failed to write record", zap.String("method", "Put"), zap.String("key", rec.Key), zap.Error(err))
	return fmt.Errorf("redis error saving record: %w", err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("record %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis error loading record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", key, err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis error deleting record: %w", err)
	}
	return nil
}
