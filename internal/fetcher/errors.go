package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a fetch failure.
type Kind int

// Fetch failure kinds.
const (
	KindUnreachable Kind = iota + 1
	KindBlocked
	KindTimeout
	KindTransient
	KindPermanent
)

var (
	// ErrUnreachable means the host could not be contacted.
	ErrUnreachable = errors.New("unreachable")
	// ErrBlocked means a login, consent or CAPTCHA wall was reached.
	ErrBlocked = errors.New("blocked")
	// ErrTimeout means the request or its context deadline expired.
	ErrTimeout = errors.New("timeout")
	// ErrTransient covers 5xx, 429 and connection resets. It is the only retried kind.
	ErrTransient = errors.New("transient")
	// ErrPermanent covers non-blocked 4xx responses.
	ErrPermanent = errors.New("permanent")
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindBlocked:
		return "blocked"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnreachable:
		return ErrUnreachable
	case KindBlocked:
		return ErrBlocked
	case KindTimeout:
		return ErrTimeout
	case KindTransient:
		return ErrTransient
	case KindPermanent:
		return ErrPermanent
	default:
		return nil
	}
}

// Error is returned by Fetch implementations.
type Error struct {
	Kind   Kind
	Host   string
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf extracts the Kind of err. Context errors map to KindTimeout.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout, true
	}
	return 0, false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

// KindForStatus maps a non-2xx status code onto a Kind. 429 is transient: the backoff gives the
// source the slower pace it asked for. Block markers are checked before the status is mapped.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
