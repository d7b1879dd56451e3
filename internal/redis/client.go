package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client wraps the go-redis client with the small surface the engine needs
// for shared caches.
type Client struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

func NewClient(host string, port int, password string, db int, logger zerolog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("addr", fmt.Sprintf("%s:%d", host, port)).Msg("Connected to Redis")

	return &Client{
		rdb:    rdb,
		logger: logger.With().Str("component", "redis").Logger(),
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetNX performs an atomic insert-if-absent with a TTL and reports whether
// the key was newly set.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, expiration).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}
