package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind int

const (
	Unknown Kind = iota
	RateLimited
	Timeout
	ServiceError
	Network
	Rejected // 4xx other than 429, never retried
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Timeout:
		return "timeout"
	case ServiceError:
		return "service_error"
	case Network:
		return "network"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is a failed call to a chat or speech backend.
type Error struct {
	Backend string
	Kind    Kind
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Backend, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func KindOfStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return Timeout
	case status >= 500:
		return ServiceError
	case status >= 400:
		return Rejected
	default:
		return Unknown
	}
}

// Wrap classifies a transport-level failure (no HTTP status available).
func Wrap(backend string, err error) error {
	if err == nil {
		return nil
	}

	var re *Error
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := Network
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = Timeout
	}

	return &Error{Backend: backend, Kind: kind, Err: err}
}

func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Unknown
}

// Transient reports whether another attempt may succeed.
func Transient(err error) bool {
	switch KindOf(err) {
	case RateLimited, Timeout, ServiceError, Network:
		return true
	}
	return false
}
