package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/credentials"
	"github.com/codebuildervaibhav/trigger-engine/internal/metrics"
)

// ErrNoProviders is returned when an engine is built with an empty list.
var ErrNoProviders = errors.New("provider: no providers configured")

const (
	DefaultQuotaCooldown     = 10 * time.Minute
	DefaultTransientCooldown = 2 * time.Minute

	sharedScope   = "provider"
	sharedTimeout = 2 * time.Second
)

// Named is implemented by every provider handed to an Engine.
type Named interface {
	Name() string
}

// Health is a point-in-time view of one provider.
type Health struct {
	Name          string     `json:"name"`
	Available     bool       `json:"available"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Engine fails over between providers in a fixed priority order.
type Engine[P Named] struct {
	name              string
	providers         []P
	quotaCooldown     time.Duration
	transientCooldown time.Duration
	now               func() time.Time
	shared            credentials.SharedState
	logger            *zap.Logger
	metrics           *metrics.Metrics

	mu       sync.Mutex
	cooldown map[string]time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	quota, transient time.Duration
	now              func() time.Time
	shared           credentials.SharedState
	logger           *zap.Logger
	metrics          *metrics.Metrics
}

// WithCooldowns overrides the provider cooldown intervals. Zero keeps the default.
func WithCooldowns(quota, transient time.Duration) EngineOption {
	return func(o *engineOptions) {
		if quota > 0 {
			o.quota = quota
		}
		if transient > 0 {
			o.transient = transient
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) { o.now = now }
}

func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(o *engineOptions) { o.metrics = m }
}

// WithEngineSharedState shares provider cooldowns between processes.
func WithEngineSharedState(s credentials.SharedState) EngineOption {
	return func(o *engineOptions) { o.shared = s }
}

// NewEngine builds an engine over providers in priority order.
func NewEngine[P Named](name string, providers []P, opts ...EngineOption) (*Engine[P], error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoProviders, name)
	}
	o := engineOptions{
		quota:     DefaultQuotaCooldown,
		transient: DefaultTransientCooldown,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[P]{
		name:              name,
		providers:         append([]P(nil), providers...),
		quotaCooldown:     o.quota,
		transientCooldown: o.transient,
		now:               o.now,
		shared:            o.shared,
		logger:            o.logger.With(zap.String("engine", name)),
		metrics:           o.metrics,
		cooldown:          make(map[string]time.Time),
	}, nil
}

// Name identifies the engine in logs and metrics.
func (e *Engine[P]) Name() string {
	return e.name
}

// Execute calls providers in priority order until one succeeds. Quota and
// exhausted-key failures cool a provider down for the long interval,
// transient failures for the short one, and unsupported inputs move on
// without a cooldown. Any other failure is returned as is. When no provider
// succeeds the result is KindProvidersUnavailable wrapping the last failure.
func Execute[P Named, R any](ctx context.Context, e *Engine[P], call func(context.Context, P) (R, error)) (R, error) {
	var (
		zero R
		last error
	)
	for _, p := range e.providers {
		name := p.Name()
		if !e.available(ctx, name) {
			e.logger.Debug("provider cooling down, skipped", zap.String("provider", name))
			continue
		}

		res, err := call(ctx, p)
		if err == nil {
			e.observe(name, "ok")
			return res, nil
		}
		kind := KindOf(err)
		e.observe(name, kind.String())
		if ctx.Err() != nil {
			return zero, err
		}

		switch kind {
		case KindQuota, KindKeysExhausted:
			e.setCooldown(name, e.quotaCooldown, kind, err)
		case KindTransient, KindUnavailable:
			e.setCooldown(name, e.transientCooldown, kind, err)
		case KindUnsupported:
			e.logger.Debug("provider does not support input", zap.String("provider", name))
			e.failover(name, kind)
		default:
			return zero, err
		}
		last = err
	}

	if last == nil {
		last = errors.New("every provider is cooling down")
	}
	return zero, &Error{Kind: KindProvidersUnavailable, Provider: e.name, Msg: "no provider succeeded", Err: last}
}

// Snapshot reports every provider in priority order.
func (e *Engine[P]) Snapshot() []Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	out := make([]Health, 0, len(e.providers))
	for _, p := range e.providers {
		h := Health{Name: p.Name(), Available: true}
		if until, ok := e.cooldown[h.Name]; ok && until.After(now) {
			h.Available = false
			u := until
			h.CooldownUntil = &u
		}
		out = append(out, h)
	}
	return out
}

func (e *Engine[P]) available(ctx context.Context, name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.cooldown[name].After(now) {
		return false
	}
	if e.shared == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, sharedTimeout)
	defer cancel()
	until, err := e.shared.CooldownUntil(ctx, sharedScope, name)
	if err != nil {
		e.logger.Warn("shared provider cooldown lookup failed", zap.String("provider", name), zap.Error(err))
		return true
	}
	if until.After(now) {
		e.cooldown[name] = until
		return false
	}
	return true
}

func (e *Engine[P]) setCooldown(name string, d time.Duration, kind Kind, cause error) {
	e.mu.Lock()
	until := e.now().Add(d)
	e.cooldown[name] = until
	e.mu.Unlock()

	e.logger.Warn("provider cooling down",
		zap.String("provider", name),
		zap.String("reason", kind.String()),
		zap.Duration("cooldown", d),
		zap.Error(cause))
	e.failover(name, kind)

	if e.shared != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sharedTimeout)
		defer cancel()
		if err := e.shared.SetCooldownUntil(ctx, sharedScope, name, until); err != nil {
			e.logger.Warn("shared provider cooldown publish failed", zap.String("provider", name), zap.Error(err))
		}
	}
}

func (e *Engine[P]) failover(name string, kind Kind) {
	if e.metrics != nil {
		e.metrics.ProviderFailovers.WithLabelValues(e.name, name, kind.String()).Inc()
	}
}

func (e *Engine[P]) observe(name, outcome string) {
	if e.metrics != nil {
		e.metrics.ProviderCalls.WithLabelValues(e.name, name, outcome).Inc()
	}
}
