// Package credentials rotates API keys for rate-limited providers.
//
// A Pool hands out keys round-robin in construction order, skipping keys that
// are cooling down or permanently disabled, and caches one client per key.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/metrics"
)

var (
	// ErrNoKeys is returned when a pool is built without any usable key.
	ErrNoKeys = errors.New("credentials: no api keys configured")
	// ErrExhausted is returned by Acquire when every key is cooling down or disabled.
	ErrExhausted = errors.New("credentials: all api keys are cooling down or disabled")
)

// forever is the cooldown deadline of a disabled key.
var forever = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

const sharedTimeout = 2 * time.Second

// Factory builds the client handle used with one key.
type Factory[C any] func(key string) (C, error)

type entry[C any] struct {
	key           string
	position      int
	cooldownUntil time.Time
	disabled      bool
	client        C
	cached        bool
}

// Pool owns the keys of one provider account family.
type Pool[C any] struct {
	name    string
	factory Factory[C]
	now     func() time.Time
	shared  SharedState
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries []*entry[C]
	byKey   map[string]*entry[C]
	last    int
}

// KeyStatus is a point-in-time view of one key, safe to serialize.
type KeyStatus struct {
	Key           string     `json:"key"`
	Available     bool       `json:"available"`
	Disabled      bool       `json:"disabled"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	now     func() time.Time
	shared  SharedState
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSharedState mirrors cooldowns to a store shared between processes.
func WithSharedState(s SharedState) Option {
	return func(o *options) { o.shared = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records cooldown and disable events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewPool builds a pool over keys. Blank and duplicate keys are dropped.
func NewPool[C any](name string, keys []string, factory Factory[C], opts ...Option) (*Pool[C], error) {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[C]{
		name:    name,
		factory: factory,
		now:     o.now,
		shared:  o.shared,
		logger:  o.logger.With(zap.String("pool", name)),
		metrics: o.metrics,
		byKey:   make(map[string]*entry[C]),
		last:    -1,
	}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := p.byKey[k]; dup {
			continue
		}
		e := &entry[C]{key: k, position: len(p.entries)}
		p.entries = append(p.entries, e)
		p.byKey[k] = e
	}
	if len(p.entries) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoKeys, name)
	}
	return p, nil
}

// Name identifies the pool in logs and metrics.
func (p *Pool[C]) Name() string {
	return p.name
}

// Len returns the number of keys in the pool.
func (p *Pool[C]) Len() int {
	return len(p.entries)
}

// Acquire returns the next eligible key after the last one handed out, with
// its cached client.
func (p *Pool[C]) Acquire(ctx context.Context) (string, C, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero C
	now := p.now()
	n := len(p.entries)
	for i := 1; i <= n; i++ {
		idx := (p.last + i) % n
		e := p.entries[idx]
		if e.disabled || e.cooldownUntil.After(now) {
			continue
		}
		if p.coolingElsewhere(ctx, e, now) {
			continue
		}
		if !e.cached {
			c, err := p.factory(e.key)
			if err != nil {
				return "", zero, fmt.Errorf("credentials: create client for key %d of %s: %w", e.position, p.name, err)
			}
			e.client = c
			e.cached = true
		}
		p.last = idx
		return e.key, e.client, nil
	}
	return "", zero, ErrExhausted
}

// Cooldown excludes key from Acquire until now+d. The latest call wins.
func (p *Pool[C]) Cooldown(key string, d time.Duration) {
	p.mu.Lock()
	e, ok := p.byKey[key]
	if !ok || e.disabled {
		p.mu.Unlock()
		return
	}
	until := p.now().Add(d)
	e.cooldownUntil = until
	position := e.position
	p.mu.Unlock()

	p.logger.Warn("api key cooling down",
		zap.Int("key_index", position),
		zap.Duration("cooldown", d),
		zap.Time("until", until))
	if p.metrics != nil {
		p.metrics.KeyEvents.WithLabelValues(p.name, "cooldown").Inc()
	}
	p.publish(key, until)
}

// Disable removes key from rotation for the lifetime of the pool and drops
// its cached client.
func (p *Pool[C]) Disable(key string) {
	p.mu.Lock()
	e, ok := p.byKey[key]
	if !ok || e.disabled {
		p.mu.Unlock()
		return
	}
	p.disableLocked(e)
	position := e.position
	p.mu.Unlock()

	p.logger.Error("api key disabled", zap.Int("key_index", position))
	if p.metrics != nil {
		p.metrics.KeyEvents.WithLabelValues(p.name, "disable").Inc()
	}
	p.publish(key, forever)
}

func (p *Pool[C]) disableLocked(e *entry[C]) {
	var zero C
	e.disabled = true
	e.cooldownUntil = forever
	e.client = zero
	e.cached = false
}

// Snapshot reports every key with its secret masked.
func (p *Pool[C]) Snapshot() []KeyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]KeyStatus, 0, len(p.entries))
	for _, e := range p.entries {
		st := KeyStatus{
			Key:       Mask(e.key),
			Disabled:  e.disabled,
			Available: !e.disabled && !e.cooldownUntil.After(now),
		}
		if !e.disabled && e.cooldownUntil.After(now) {
			until := e.cooldownUntil
			st.CooldownUntil = &until
		}
		out = append(out, st)
	}
	return out
}

// coolingElsewhere consults the shared state and adopts a cooldown set by
// another process.
func (p *Pool[C]) coolingElsewhere(ctx context.Context, e *entry[C], now time.Time) bool {
	if p.shared == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, sharedTimeout)
	defer cancel()

	until, err := p.shared.CooldownUntil(ctx, p.name, e.key)
	if err != nil {
		p.logger.Warn("shared cooldown lookup failed", zap.Int("key_index", e.position), zap.Error(err))
		return false
	}
	if !until.After(now) {
		return false
	}
	if !until.Before(forever) {
		p.disableLocked(e)
		return true
	}
	e.cooldownUntil = until
	return true
}

func (p *Pool[C]) publish(key string, until time.Time) {
	if p.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sharedTimeout)
	defer cancel()
	if err := p.shared.SetCooldownUntil(ctx, p.name, key, until); err != nil {
		p.logger.Warn("shared cooldown publish failed", zap.Error(err))
	}
}

// Mask hides all but the edges of a secret.
func Mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
