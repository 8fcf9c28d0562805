package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

var (
	perMinute = Bucket{Name: "user_minute", Scope: ScopeUser, Limit: 3, Window: time.Minute}
	perDay    = Bucket{Name: "org_day", Scope: ScopeOrganization, Limit: 2, Window: 24 * time.Hour}
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedisGuard(t *testing.T) (*RedisGuard, *clock) {
	client, _ := setupTestRedis(t)
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	g := NewRedisGuard(client)
	g.now = c.now
	return g, c
}

func TestRedisGuard_AllowsWithinLimit(t *testing.T) {
	g, _ := newRedisGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Nil(t, d.Exceeded)
	}

	d, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.NotNil(t, d.Exceeded)
	assert.Equal(t, "user_minute", d.Exceeded.Name)
	assert.Equal(t, 3, d.Exceeded.Limit)
	assert.Equal(t, 60, d.Exceeded.RetryAfterSeconds)
}

func TestRedisGuard_RetryAfterTracksOldestRequest(t *testing.T) {
	g, c := newRedisGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
		require.NoError(t, err)
		c.advance(10 * time.Second)
	}

	// oldest request is 30s old
	d, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
	require.NoError(t, err)
	require.NotNil(t, d.Exceeded)
	assert.Equal(t, 30, d.Exceeded.RetryAfterSeconds)
}

func TestRedisGuard_WindowSlides(t *testing.T) {
	g, c := newRedisGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
		require.NoError(t, err)
	}

	c.advance(time.Minute + time.Millisecond)

	d, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisGuard_DeniedRequestIsNotCounted(t *testing.T) {
	g, _ := newRedisGuard(t)
	ctx := context.Background()
	buckets := []Bucket{perMinute, perDay}

	for i := 0; i < 2; i++ {
		d, err := g.CheckRateLimits(ctx, "user-1", "org-1", buckets)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := g.CheckRateLimits(ctx, "user-1", "org-1", buckets)
	require.NoError(t, err)
	require.NotNil(t, d.Exceeded)
	assert.Equal(t, "org_day", d.Exceeded.Name)

	used, err := g.Usage(ctx, "user-1", "org-1", perMinute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), used)
}

func TestRedisGuard_Scopes(t *testing.T) {
	g, _ := newRedisGuard(t)
	ctx := context.Background()
	buckets := []Bucket{perMinute, perDay}

	d, err := g.CheckRateLimits(ctx, "alice", "org-1", buckets)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = g.CheckRateLimits(ctx, "bob", "org-1", buckets)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// org bucket is shared
	d, err = g.CheckRateLimits(ctx, "carol", "org-1", buckets)
	require.NoError(t, err)
	require.NotNil(t, d.Exceeded)
	assert.Equal(t, "org_day", d.Exceeded.Name)

	// another org is untouched
	d, err = g.CheckRateLimits(ctx, "carol", "org-2", buckets)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisGuard_Unlimited(t *testing.T) {
	g, _ := newRedisGuard(t)
	ctx := context.Background()
	unlimited := Bucket{Name: "org_day", Scope: ScopeOrganization, Limit: 0, Window: 24 * time.Hour}

	for i := 0; i < 50; i++ {
		d, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{unlimited})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := g.CheckRateLimits(ctx, "user-1", "org-1", nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisGuard_Reset(t *testing.T) {
	g, _ := newRedisGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
		require.NoError(t, err)
	}
	require.NoError(t, g.Reset(ctx, "user-1", "org-1", perMinute))

	used, err := g.Usage(ctx, "user-1", "org-1", perMinute)
	require.NoError(t, err)
	assert.Zero(t, used)

	d, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisGuard_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	g := NewRedisGuard(client)
	mr.Close()

	_, err := g.CheckRateLimits(context.Background(), "user-1", "org-1", []Bucket{perMinute})
	assert.Error(t, err)
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	g.now = c.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
	require.NoError(t, err)
	require.NotNil(t, d.Exceeded)
	assert.Equal(t, "user_minute", d.Exceeded.Name)
	assert.Equal(t, 20, d.Exceeded.RetryAfterSeconds)

	// another user has their own bucket
	d, err = g.CheckRateLimits(ctx, "user-2", "org-1", []Bucket{perMinute})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	c.advance(20 * time.Second)
	d, err = g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryGuard_DeniedRequestIsNotCounted(t *testing.T) {
	g := NewMemoryGuard()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	g.now = c.now
	ctx := context.Background()
	buckets := []Bucket{perMinute, perDay}

	for i := 0; i < 2; i++ {
		d, err := g.CheckRateLimits(ctx, "user-1", "org-1", buckets)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := g.CheckRateLimits(ctx, "user-1", "org-1", buckets)
	require.NoError(t, err)
	require.NotNil(t, d.Exceeded)
	assert.Equal(t, "org_day", d.Exceeded.Name)

	// the per-minute reservation was returned, so one more fits there
	d, err = g.CheckRateLimits(ctx, "user-1", "org-9", []Bucket{perMinute})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryGuard_EvictsIdleLimiters(t *testing.T) {
	g := NewMemoryGuard()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	g.now = c.now
	ctx := context.Background()

	_, err := g.CheckRateLimits(ctx, "user-1", "org-1", []Bucket{perMinute, perDay})
	require.NoError(t, err)
	require.Len(t, g.limiters, 2)

	c.advance(2 * time.Minute)
	_, err = g.CheckRateLimits(ctx, "user-2", "org-2", []Bucket{perMinute})
	require.NoError(t, err)

	// user-1's minute bucket refilled and went; org-1's day bucket stays
	assert.Len(t, g.limiters, 2)
	assert.NotContains(t, g.limiters, bucketKey(perMinute, "user-1", "org-1"))
	assert.Contains(t, g.limiters, bucketKey(perDay, "user-1", "org-1"))
	assert.Contains(t, g.limiters, bucketKey(perMinute, "user-2", "org-2"))
}

func TestNoopGuard(t *testing.T) {
	var g Guard = NoopGuard{}
	for i := 0; i < 100; i++ {
		d, err := g.CheckRateLimits(context.Background(), "u", "o", []Bucket{perMinute})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}
