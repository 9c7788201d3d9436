// Package provider runs calls against rate-limited AI providers: the Invoker
// rotates keys inside one provider and the Engine fails over between
// providers.
package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure so callers can decide whether to rotate,
// fail over or give up.
type Kind int

const (
	KindFatal Kind = iota
	KindQuota
	KindInvalidCredential
	KindTransient
	// KindUnavailable is a temporary outage of the whole provider; rotating
	// keys cannot help.
	KindUnavailable
	KindMalformed
	KindUnsupported
	KindKeysExhausted
	KindProvidersUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindTransient:
		return "transient"
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	case KindUnsupported:
		return "unsupported"
	case KindKeysExhausted:
		return "keys_exhausted"
	case KindProvidersUnavailable:
		return "providers_unavailable"
	default:
		return "fatal"
	}
}

// Error is the tagged error returned by providers, the Invoker and the Engine.
type Error struct {
	Kind     Kind
	Provider string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error of kind k.
func Errorf(k Kind, provider, format string, args ...any) *Error {
	return &Error{Kind: k, Provider: provider, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind k. A nil err stays nil.
func Wrap(k Kind, provider string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Provider: provider, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain. Errors that
// carry no kind are fatal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
