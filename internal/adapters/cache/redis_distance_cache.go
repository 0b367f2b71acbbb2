package cache

import (
	"context"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/obs"
	"driver-cost-service/internal/ports"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lease only if it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisDistanceCache shares results and leases across processes. Values are
// JSON under distance:<key>; leases are SET NX PX under lease:<key>.
type RedisDistanceCache struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisDistanceCache(client *redis.Client, log *zap.Logger) *RedisDistanceCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisDistanceCache{client: client, log: log}
}

func distanceKey(key string) string { return "distance:" + key }
func leaseKey(key string) string    { return "lease:" + key }

func (c *RedisDistanceCache) Get(ctx context.Context, key string) (_ domain.DistanceResult, _ bool, err error) {
	defer obs.Time(ctx, c.log, "distance.redis.Get")(&err)

	raw, err := c.client.Get(ctx, distanceKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.DistanceResult{}, false, nil
	}
	if err != nil {
		return domain.DistanceResult{}, false, fmt.Errorf("get distance cache key=%q: %w", key, err)
	}

	var v cachedResult
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.DistanceResult{}, false, fmt.Errorf("get distance cache key=%q: decode: %w", key, err)
	}
	return v.result(), true, nil
}

func (c *RedisDistanceCache) Put(ctx context.Context, key string, result domain.DistanceResult) (err error) {
	defer obs.Time(ctx, c.log, "distance.redis.Put")(&err)

	raw, err := json.Marshal(toCached(result))
	if err != nil {
		return fmt.Errorf("insert distance cache key=%q: encode: %w", key, err)
	}
	if err := c.client.Set(ctx, distanceKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("insert distance cache key=%q: %w", key, err)
	}
	return nil
}

func (c *RedisDistanceCache) TryBeginResolution(ctx context.Context, key string, ttl time.Duration) (_ ports.Lease, err error) {
	defer obs.Time(ctx, c.log, "distance.redis.TryBeginResolution")(&err)

	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, leaseKey(key), token, ttl).Result()
	if err != nil {
		return ports.Lease{}, fmt.Errorf("begin resolution key=%q: %w", key, err)
	}
	now := time.Now()
	if ok {
		return ports.Lease{Granted: true, Token: token, ExpiresAt: now.Add(ttl)}, nil
	}

	left, err := c.client.PTTL(ctx, leaseKey(key)).Result()
	if err != nil {
		return ports.Lease{}, fmt.Errorf("begin resolution key=%q: pttl: %w", key, err)
	}
	if left < 0 {
		// Gone or without expiry; let the caller re-check right away.
		left = 0
	}
	return ports.Lease{ExpiresAt: now.Add(left)}, nil
}

func (c *RedisDistanceCache) ReleaseLease(ctx context.Context, key string, token string) error {
	if err := releaseScript.Run(ctx, c.client, []string{leaseKey(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease key=%q: %w", key, err)
	}
	return nil
}
