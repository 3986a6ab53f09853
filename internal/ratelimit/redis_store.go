package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("ratelimit: redis address is required")

// RedisConfig holds the connection parameters for the shared rate-limiter
// store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

const (
	lastRequestField = "last_request_ts"
	delayField       = "delay_ms"
	connectTimeout   = 5 * time.Second
)

// RedisStore is the network-accessible key-value backend for the limiter,
// shared across worker processes. Each host's state is a small hash with a
// 1h TTL so stale hosts age out automatically.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore opens and verifies a Redis connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: redis ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(host string) string {
	return "ratelimit:" + host
}

func (s *RedisStore) GetState(ctx context.Context, host string) (time.Time, time.Duration, error) {
	vals, err := s.client.HMGet(ctx, key(host), lastRequestField, delayField).Result()
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("ratelimit: redis get state: %w", err)
	}

	var last time.Time
	var delay time.Duration
	if s, ok := vals[0].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			last = time.UnixMilli(ms).UTC()
		}
	}
	if s, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			delay = time.Duration(ms) * time.Millisecond
		}
	}
	return last, delay, nil
}

func (s *RedisStore) SetDelay(ctx context.Context, host string, delay time.Duration) error {
	k := key(host)
	if err := s.client.HSet(ctx, k, delayField, delay.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis set delay: %w", err)
	}
	s.client.Expire(ctx, k, keyTTL)
	return nil
}

func (s *RedisStore) SetLastRequest(ctx context.Context, host string, at time.Time) error {
	k := key(host)
	if err := s.client.HSet(ctx, k, lastRequestField, at.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis set last request: %w", err)
	}
	s.client.Expire(ctx, k, keyTTL)
	return nil
}
