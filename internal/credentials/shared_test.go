package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisState(t *testing.T) (*RedisState, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisState(client, "test"), mr
}

func TestRedisState_RoundTrip(t *testing.T) {
	st, mr := newRedisState(t)
	ctx := context.Background()

	until, err := st.CooldownUntil(ctx, "gemini", "secret-key")
	require.NoError(t, err)
	assert.True(t, until.IsZero())

	want := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, st.SetCooldownUntil(ctx, "gemini", "secret-key", want))

	got, err := st.CooldownUntil(ctx, "gemini", "secret-key")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "secret-key")
	}

	mr.FastForward(2 * time.Minute)
	got, err = st.CooldownUntil(ctx, "gemini", "secret-key")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestRedisState_DisableHasNoExpiry(t *testing.T) {
	st, mr := newRedisState(t)
	ctx := context.Background()

	require.NoError(t, st.SetCooldownUntil(ctx, "gemini", "k", forever))
	mr.FastForward(24 * 365 * time.Hour)

	got, err := st.CooldownUntil(ctx, "gemini", "k")
	require.NoError(t, err)
	assert.False(t, got.Before(forever))
}

func TestRedisState_PastDeadlineClears(t *testing.T) {
	st, _ := newRedisState(t)
	ctx := context.Background()

	require.NoError(t, st.SetCooldownUntil(ctx, "gemini", "k", time.Now().Add(time.Minute)))
	require.NoError(t, st.SetCooldownUntil(ctx, "gemini", "k", time.Now().Add(-time.Second)))

	got, err := st.CooldownUntil(ctx, "gemini", "k")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestPool_SharedCooldownAcrossProcesses(t *testing.T) {
	st, _ := newRedisState(t)
	clock := newFakeClock(time.Now())

	newPool := func() *Pool[*handle] {
		p, err := NewPool("gemini", []string{"k1", "k2"}, countingFactory(map[string]int{}),
			WithClock(clock.Now), WithSharedState(st))
		require.NoError(t, err)
		return p
	}
	a, b := newPool(), newPool()

	a.Cooldown("k1", time.Hour)
	b.Disable("k2")

	_, _, err := b.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)

	_, _, err = a.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)

	snap := a.Snapshot()
	assert.True(t, snap[1].Disabled)
}
