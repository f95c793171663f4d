// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/streamwarden/streamwarden/internal/model"
)

// RedisStore is the Redis-backed implementation of StateStore.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis state store")

	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Client exposes the underlying connection for collaborators that share it
// (the notifier publishes on the same connection pool).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) RegisterPID(ctx context.Context, key model.StreamKey, pid int) error {
	return s.client.Set(ctx, model.PIDKey(key), pid, 0).Err()
}

func (s *RedisStore) GetPID(ctx context.Context, key model.StreamKey) (int, bool, error) {
	val, err := s.client.Get(ctx, model.PIDKey(key)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	pid, err := strconv.Atoi(val)
	if err != nil {
		// Corrupt entry: treat as absent and drop it.
		s.logger.Warn().Str("key", model.PIDKey(key)).Str("value", val).Msg("dropping malformed pid entry")
		_ = s.client.Del(ctx, model.PIDKey(key)).Err()
		return 0, false, nil
	}
	return pid, true, nil
}

func (s *RedisStore) ClearPID(ctx context.Context, key model.StreamKey) error {
	return s.client.Del(ctx, model.PIDKey(key)).Err()
}

func (s *RedisStore) AddActive(ctx context.Context, key model.StreamKey) error {
	return s.client.SAdd(ctx, model.ActiveIDsKey(key.Kind), key.ID).Err()
}

func (s *RedisStore) RemoveActive(ctx context.Context, key model.StreamKey) error {
	return s.client.SRem(ctx, model.ActiveIDsKey(key.Kind), key.ID).Err()
}

func (s *RedisStore) ActiveIDs(ctx context.Context, kind model.ResourceKind) ([]int64, error) {
	members, err := s.client.SMembers(ctx, model.ActiveIDsKey(kind)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *RedisStore) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, key, "1", ttl).Err()
}

func (s *RedisStore) HasMarker(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) ClearMarker(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

// Decrement lowers the counter and floors it at zero. A decrement racing
// another decrement past zero corrects itself; the counter is best-effort
// by contract, bounded by the number of concurrently racing attempts.
func (s *RedisStore) Decrement(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		if err := s.client.Incr(ctx, key).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}

func (s *RedisStore) Counter(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed counter %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// AcquireLock takes a TTL-bounded mutex via SET NX. It never waits: a held
// lock returns false immediately.
func (s *RedisStore) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseLock releases a mutex if the caller still owns it. The get/compare/
// delete window is accepted: the TTL bounds any stale hold.
func (s *RedisStore) ReleaseLock(ctx context.Context, key, owner string) error {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return err
	}
	if val != owner {
		return ErrNotOwner
	}
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
