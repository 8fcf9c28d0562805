package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Checks every bucket first and only then records the request in all of
// them, so a denied request never consumes quota.
//
// KEYS: one sorted set per bucket
// ARGV: now_ms, member, then limit and window_ms per bucket
// Returns {allowed, index of the exceeded bucket, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local member = ARGV[2]

	for i = 1, #KEYS do
		local limit = tonumber(ARGV[1 + i * 2])
		local window = tonumber(ARGV[2 + i * 2])
		redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', now - window)
		if redis.call('ZCARD', KEYS[i]) >= limit then
			local retry = window
			local oldest = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
			if oldest[2] then
				retry = tonumber(oldest[2]) + window - now
			end
			return {0, i, retry}
		end
	end

	for i = 1, #KEYS do
		local window = tonumber(ARGV[2 + i * 2])
		redis.call('ZADD', KEYS[i], now, member)
		redis.call('PEXPIRE', KEYS[i], window)
	end
	return {1, 0, 0}
`)

// RedisGuard keeps sliding windows in Redis sorted sets, shared by every
// server instance.
type RedisGuard struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisGuard creates a guard on client.
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client, now: time.Now}
}

func (g *RedisGuard) CheckRateLimits(ctx context.Context, userID, orgID string, buckets []Bucket) (Decision, error) {
	active := limited(buckets)
	if len(active) == 0 {
		return Decision{Allowed: true}, nil
	}

	keys := make([]string, len(active))
	args := make([]interface{}, 0, 2+2*len(active))
	args = append(args, g.now().UnixMilli(), uuid.NewString())
	for i, b := range active {
		keys[i] = bucketKey(b, userID, orgID)
		args = append(args, b.Limit, b.Window.Milliseconds())
	}

	res, err := slidingWindowScript.Run(ctx, g.client, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, eris.Wrap(err, "rate limit check failed")
	}
	if len(res) != 3 {
		return Decision{}, eris.Errorf("rate limit script returned %d values", len(res))
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}

	idx := int(res[1]) - 1
	if idx < 0 || idx >= len(active) {
		return Decision{}, eris.Errorf("rate limit script returned bucket %d", res[1])
	}
	return exceeded(active[idx], time.Duration(res[2])*time.Millisecond), nil
}

// Usage returns how many requests bucket has counted in its current window.
func (g *RedisGuard) Usage(ctx context.Context, userID, orgID string, b Bucket) (int64, error) {
	key := bucketKey(b, userID, orgID)
	windowStart := g.now().Add(-b.Window).UnixMilli()

	pipe := g.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", formatInt(windowStart))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrap(err, "failed to get current usage")
	}
	return count.Val(), nil
}

// Reset clears bucket for the given subject.
func (g *RedisGuard) Reset(ctx context.Context, userID, orgID string, b Bucket) error {
	if err := g.client.Del(ctx, bucketKey(b, userID, orgID)).Err(); err != nil {
		return eris.Wrap(err, "failed to reset rate limit")
	}
	return nil
}
