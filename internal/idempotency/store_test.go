package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestSetNXOnlyFirstWins(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, PendingKey("t1", "u1"), "p1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, PendingKey("t1", "u1"), "p2", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := s.Get(ctx, "pending:t1:u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "p1", v)

	mr.FastForward(5*time.Minute + time.Second)
	_, found, err = s.Get(ctx, "pending:t1:u1")
	require.NoError(t, err)
	assert.False(t, found, "dedup key must expire")
}

func TestIncrStartsTTLOnce(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := s.Incr(ctx, "rl:t1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	ttl := mr.TTL("rl:t1")
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl=%s", ttl)

	mr.FastForward(time.Minute)
	n, err := s.Incr(ctx, "rl:t1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDelManyAndDelIfValue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "2", 0))
	require.NoError(t, s.Del(ctx, "a", "b", "missing"))
	_, found, _ := s.Get(ctx, "a")
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "k", "owner", 0))
	ok, err := s.DelIfValue(ctx, "k", "someone-else")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.DelIfValue(ctx, "k", "owner")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, s.Del(ctx))
}

func TestJSONHelpers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	type unit struct {
		ID   string `json:"id"`
		Rent string `json:"rent"`
	}
	require.NoError(t, SetJSON(ctx, s, UnitCacheKey("u1"), unit{ID: "u1", Rent: "15000"}, time.Minute))

	var got unit
	hit, err := GetJSON(ctx, s, UnitCacheKey("u1"), &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "15000", got.Rent)

	require.NoError(t, s.Set(ctx, UnitCacheKey("u2"), "{not json", time.Minute))
	hit, err = GetJSON(ctx, s, UnitCacheKey("u2"), &got)
	require.NoError(t, err)
	assert.False(t, hit)
	_, found, _ := s.Get(ctx, UnitCacheKey("u2"))
	assert.False(t, found, "corrupt entries are evicted")
}

func TestRateLimiter(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	rl := NewRateLimiter(s, 2)

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, ok, "limits are per actor")

	mr.FastForward(time.Minute)
	ok, err = rl.Allow(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
}
