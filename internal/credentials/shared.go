package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SharedState stores cooldown deadlines where several worker processes can
// see them. A zero time means no cooldown is recorded.
type SharedState interface {
	CooldownUntil(ctx context.Context, scope, key string) (time.Time, error)
	SetCooldownUntil(ctx context.Context, scope, key string, until time.Time) error
}

// ErrEmptyAddress is returned when Redis is enabled without an address.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisState keeps cooldowns in Redis keyed by a digest of the secret, never
// the secret itself. Entries expire with the cooldown they describe.
type RedisState struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisState returns a SharedState backed by client.
func NewRedisState(client *redis.Client, prefix string) *RedisState {
	if prefix == "" {
		prefix = "trigger-engine:cooldown"
	}
	return &RedisState{client: client, prefix: prefix, now: time.Now}
}

// CooldownUntil returns the recorded deadline for key within scope.
func (s *RedisState) CooldownUntil(ctx context.Context, scope, key string) (time.Time, error) {
	ms, err := s.client.Get(ctx, s.redisKey(scope, key)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read cooldown: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// SetCooldownUntil records until for key. Deadlines at or past the disable
// horizon are stored without expiry.
func (s *RedisState) SetCooldownUntil(ctx context.Context, scope, key string, until time.Time) error {
	rk := s.redisKey(scope, key)

	var ttl time.Duration
	if until.Before(forever) {
		ttl = until.Sub(s.now())
		if ttl <= 0 {
			if err := s.client.Del(ctx, rk).Err(); err != nil {
				return fmt.Errorf("clear cooldown: %w", err)
			}
			return nil
		}
	}
	if err := s.client.Set(ctx, rk, until.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("write cooldown: %w", err)
	}
	return nil
}

func (s *RedisState) redisKey(scope, key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, hex.EncodeToString(sum[:8]))
}
