package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/trigger-engine/internal/credentials"
)

func newPool(t *testing.T, now func() time.Time, keys ...string) *credentials.Pool[string] {
	t.Helper()
	p, err := credentials.NewPool("gemini", keys, func(k string) (string, error) { return "client-" + k, nil },
		credentials.WithClock(now))
	require.NoError(t, err)
	return p
}

var testInvoke = InvokeConfig{KeyCooldown: time.Hour, CallTimeout: time.Second}

func TestInvoke_FirstKeySucceeds(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2")

	got, err := Invoke(context.Background(), pool, testInvoke, func(_ context.Context, c string) (string, error) {
		return c, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "client-k1", got)
}

func TestInvoke_QuotaRotatesAndCoolsDown(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2", "k3")

	var seen []string
	got, err := Invoke(context.Background(), pool, testInvoke, func(_ context.Context, c string) (string, error) {
		seen = append(seen, c)
		if c == "client-k3" {
			return "ok", nil
		}
		return "", Errorf(KindQuota, "gemini", "429")
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{"client-k1", "client-k2", "client-k3"}, seen)

	snap := pool.Snapshot()
	assert.False(t, snap[0].Available)
	assert.False(t, snap[1].Available)
	assert.False(t, snap[0].Disabled)
	assert.Equal(t, now.Add(time.Hour), *snap[0].CooldownUntil)
}

func TestInvoke_InvalidCredentialDisables(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2")

	_, err := Invoke(context.Background(), pool, testInvoke, func(_ context.Context, c string) (string, error) {
		if c == "client-k1" {
			return "", Errorf(KindInvalidCredential, "gemini", "API_KEY_INVALID")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.True(t, pool.Snapshot()[0].Disabled)
}

func TestInvoke_KeysExhausted(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2")

	calls := 0
	_, err := Invoke(context.Background(), pool, testInvoke, func(context.Context, string) (string, error) {
		calls++
		return "", Errorf(KindQuota, "gemini", "quota exceeded")
	})
	require.Error(t, err)
	assert.Equal(t, KindKeysExhausted, KindOf(err))
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, 2, calls)

	calls = 0
	_, err = Invoke(context.Background(), pool, testInvoke, func(context.Context, string) (string, error) {
		calls++
		return "ok", nil
	})
	assert.Equal(t, KindKeysExhausted, KindOf(err))
	assert.Zero(t, calls)
}

func TestInvoke_MalformedRetriedOnceOnSameClient(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2")

	var seen []string
	got, err := Invoke(context.Background(), pool, testInvoke, func(_ context.Context, c string) (string, error) {
		seen = append(seen, c)
		if len(seen) == 1 {
			return "", Errorf(KindMalformed, "gemini", "not json")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{"client-k1", "client-k1"}, seen)
}

func TestInvoke_MalformedTwiceIsFatal(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2")

	calls := 0
	_, err := Invoke(context.Background(), pool, testInvoke, func(context.Context, string) (string, error) {
		calls++
		return "", Errorf(KindMalformed, "gemini", "empty output")
	})
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.Equal(t, 2, calls)
	assert.True(t, pool.Snapshot()[0].Available)
}

func TestInvoke_UnclassifiedIsFatal(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2")

	boom := errors.New("bad request")
	calls := 0
	_, err := Invoke(context.Background(), pool, testInvoke, func(context.Context, string) (string, error) {
		calls++
		return "", boom
	})
	assert.Equal(t, KindFatal, KindOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestInvoke_CallTimeoutIsTransient(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2")
	cfg := InvokeConfig{KeyCooldown: time.Minute, CallTimeout: 10 * time.Millisecond}

	got, err := Invoke(context.Background(), pool, cfg, func(ctx context.Context, c string) (string, error) {
		if c == "client-k1" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.False(t, pool.Snapshot()[0].Available)
}

func TestInvoke_UnavailableLeavesKeysAlone(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1", "k2", "k3")

	calls := 0
	_, err := Invoke(context.Background(), pool, testInvoke, func(context.Context, string) (string, error) {
		calls++
		return "", Errorf(KindUnavailable, "deepgram", "server error 500")
	})
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Contains(t, err.Error(), "server error 500")
	assert.Equal(t, 1, calls)
	for _, k := range pool.Snapshot() {
		assert.True(t, k.Available, k.Key)
	}
}

func TestExecute_ServerErrorOverInvoke(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantKind     Kind
		wantCooldown time.Duration
	}{
		{"provider outage", Errorf(KindUnavailable, "p", "server error 500"), KindProvidersUnavailable, DefaultTransientCooldown},
		{"fatal server error", Errorf(KindFatal, "p", "status 500"), KindFatal, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Unix(0, 0)
			clock := func() time.Time { return now }
			pool := newPool(t, clock, "k1", "k2", "k3")
			e, err := NewEngine("transcription", []*stub{{name: "p"}}, WithEngineClock(clock))
			require.NoError(t, err)

			attempts := 0
			_, err = Execute(context.Background(), e, func(ctx context.Context, _ *stub) (string, error) {
				return Invoke(ctx, pool, testInvoke, func(context.Context, string) (string, error) {
					attempts++
					return "", tt.err
				})
			})
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, 1, attempts)
			for _, k := range pool.Snapshot() {
				assert.True(t, k.Available, k.Key)
			}

			h := e.Snapshot()[0]
			if tt.wantCooldown == 0 {
				assert.True(t, h.Available)
				return
			}
			require.NotNil(t, h.CooldownUntil)
			assert.Equal(t, now.Add(tt.wantCooldown), *h.CooldownUntil)
		})
	}
}

func TestInvoke_CancelledContext(t *testing.T) {
	now := time.Unix(0, 0)
	pool := newPool(t, func() time.Time { return now }, "k1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Invoke(ctx, pool, testInvoke, func(context.Context, string) (string, error) {
		return "ok", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
