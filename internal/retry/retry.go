package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrPermanent marks an error that must never be retried. Wrap with
// Permanent() so the policy stops immediately regardless of attempts left.
var ErrPermanent = errors.New("permanent error")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy is the single retry abstraction shared by clip acquisition and
// per-channel dispatch.
// Delay for attempt i (0-based) is BaseDelay * 2^i, capped at MaxDelay,
// plus up to Jitter of random spread.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil means everything non-permanent is retryable.
	Retryable func(error) bool
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

// Do runs fn up to MaxAttempts times. It stops early on success, on a
// Permanent error, on a non-retryable error, or when ctx is done while
// waiting out a backoff delay. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.attempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}
