// Package errkind classifies failures from external services so callers can
// decide whether to retry, degrade or stop.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind is the coarse category of a failure.
type Kind int

const (
	Unknown Kind = iota
	Transient
	RateLimited
	QuotaExceeded
	Auth
	NotFound
	Timeout
	ResourceLimit
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case QuotaExceeded:
		return "quota_exceeded"
	case Auth:
		return "auth"
	case NotFound:
		return "not_found"
	case Timeout:
		return "timeout"
	case ResourceLimit:
		return "resource_limit"
	default:
		return "unknown"
	}
}

// Retryable reports whether the kind is eligible for client-side retry.
func (k Kind) Retryable() bool {
	return k == Transient || k == RateLimited
}

// Error wraps an underlying error with its kind and the failing operation.
type Error struct {
	Kind       Kind
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of err. Context errors and network timeouts are
// mapped even when not wrapped in *Error.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return Transient
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterOf returns the server-suggested delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.RetryAfter
	}
	return 0
}

// FromStatus maps an HTTP status code to a kind.
func FromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Auth
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusPaymentRequired:
		return QuotaExceeded
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return Timeout
	case status == http.StatusRequestEntityTooLarge:
		return ResourceLimit
	case status >= http.StatusInternalServerError:
		return Transient
	default:
		return Unknown
	}
}
