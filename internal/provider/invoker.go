package provider

import (
	"context"
	"errors"
	"time"

	"github.com/codebuildervaibhav/trigger-engine/internal/credentials"
)

// KeyPool is the part of credentials.Pool the Invoker needs.
type KeyPool[C any] interface {
	Name() string
	Len() int
	Acquire(ctx context.Context) (string, C, error)
	Cooldown(key string, d time.Duration)
	Disable(key string)
}

// InvokeConfig bounds one Invoke.
type InvokeConfig struct {
	// KeyCooldown is applied to a key after a quota failure, a timeout or a
	// connection failure.
	KeyCooldown time.Duration
	// CallTimeout bounds each attempt. Zero means no extra deadline.
	CallTimeout time.Duration
}

// DefaultInvokeConfig mirrors the service defaults.
var DefaultInvokeConfig = InvokeConfig{
	KeyCooldown: time.Hour,
	CallTimeout: 60 * time.Second,
}

// Invoke runs attempt with keys from pool until one succeeds. Quota and
// transient failures cool the key down, invalid keys are disabled, and a
// malformed response is retried once on the same client. A provider-wide
// outage (KindUnavailable) leaves the key alone and comes back as
// KindTransient. Running out of keys yields KindKeysExhausted carrying the
// last failure.
func Invoke[C, R any](ctx context.Context, pool KeyPool[C], cfg InvokeConfig, attempt func(context.Context, C) (R, error)) (R, error) {
	var (
		zero R
		last error
	)
	name := pool.Name()

	for i := 0; i < pool.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return zero, Wrap(KindFatal, name, err)
		}

		key, client, err := pool.Acquire(ctx)
		if errors.Is(err, credentials.ErrExhausted) {
			break
		}
		if err != nil {
			return zero, Wrap(KindFatal, name, err)
		}

		res, err := runAttempt(ctx, cfg, client, attempt)
		if err == nil {
			return res, nil
		}
		if KindOf(err) == KindMalformed {
			res, err = runAttempt(ctx, cfg, client, attempt)
			if err == nil {
				return res, nil
			}
			if KindOf(err) == KindMalformed {
				return zero, &Error{Kind: KindFatal, Provider: name, Msg: "malformed response after retry", Err: err}
			}
		}

		last = err
		switch KindOf(err) {
		case KindQuota, KindTransient:
			pool.Cooldown(key, cfg.KeyCooldown)
		case KindInvalidCredential:
			pool.Disable(key)
		case KindUnavailable:
			return zero, &Error{Kind: KindTransient, Provider: name, Msg: "provider unavailable", Err: err}
		case KindUnsupported:
			return zero, err
		default:
			return zero, fatal(name, err)
		}
	}

	if last == nil {
		last = credentials.ErrExhausted
	}
	return zero, &Error{Kind: KindKeysExhausted, Provider: name, Msg: "no usable api key", Err: last}
}

func runAttempt[C, R any](ctx context.Context, cfg InvokeConfig, client C, attempt func(context.Context, C) (R, error)) (R, error) {
	callCtx := ctx
	if cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
	}

	res, err := attempt(callCtx, client)
	if err == nil {
		return res, nil
	}
	// A deadline hit by this attempt alone is the provider being slow.
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && KindOf(err) == KindFatal {
		return res, Wrap(KindTransient, "", err)
	}
	return res, err
}

func fatal(name string, err error) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindFatal {
		return err
	}
	return &Error{Kind: KindFatal, Provider: name, Err: err}
}
