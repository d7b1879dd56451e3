package dedupe

import (
	"context"
	"time"

	redisclient "github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/redis"
)

const redisKeyPrefix = "realtime:notif:"

// RedisStore shares the dedup window across processes, so a fleet of
// mirrors replaying the same server events surfaces each notification once.
type RedisStore struct {
	client *redisclient.Client
}

func NewRedisStore(client *redisclient.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Record(ctx context.Context, key Key, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, redisKeyPrefix+key.String(), 1, ttl)
}
