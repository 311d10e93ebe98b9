package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy retries a call with doubling delays: Base, 2*Base, 4*Base... capped at Max.
// No jitter.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration

	// Retryable decides whether a failure is worth another attempt. Nil retries everything.
	Retryable func(error) bool

	// OnRetry is called before sleeping, with the 1-based attempt that failed.
	OnRetry func(attempt int, err error)
}

var (
	Chat = Policy{Attempts: 3, Base: 4 * time.Second, Max: 10 * time.Second}
	TTS  = Policy{Attempts: 3, Base: 2 * time.Second, Max: 5 * time.Second}
)

// backoff is the schedule Do sleeps by: Attempts-1 delays, doubling from Base, capped at Max.
func (p Policy) backoff() goretry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Nanosecond
	}

	b := goretry.NewExponential(base)
	if p.Max > 0 {
		b = goretry.WithCappedDuration(p.Max, b)
	}
	return goretry.WithMaxRetries(uint64(p.attempts()-1), b)
}

func (p Policy) attempts() int {
	return max(p.Attempts, 1)
}

// Do runs fn until it succeeds, the attempts run out or ctx ends.
// The error of the last attempt is returned as is.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.attempts()

	attempt := 0
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt < attempts && p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
}

func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
