package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces rate limiter keys in a shared Redis.
const keyPrefix = "kya:rl"

// RedisCounter shares the sliding window across nodes using per-minute
// bucket keys. Each Allow increments the current minute's bucket and
// expires it after two minutes, so stale buckets clean themselves up.
type RedisCounter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCounter creates a counter over an existing Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, now: time.Now}
}

// Allow implements Counter. INCR is atomic in Redis, so concurrent
// callers across nodes observe a consistent count.
func (r *RedisCounter) Allow(ctx context.Context, workspaceID, agentID, actionType string, maxPerMinute int) (bool, error) {
	if maxPerMinute <= 0 {
		return false, nil
	}
	minute := r.now().UTC().Unix() / 60
	key := fmt.Sprintf("%s:%s:%s:%s:%d", keyPrefix, workspaceID, agentID, actionType, minute)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	return incr.Val() <= int64(maxPerMinute), nil
}
