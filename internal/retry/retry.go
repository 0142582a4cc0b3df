// Package retry runs external operations with a fixed attempt budget and a
// fixed backoff. Only transient failures (timeouts, element or resource not
// found yet, 5xx) are retried; anything else returns immediately. A capture
// hook records a diagnostic artifact on every non-transient failure and when
// the budget runs out.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 600 * time.Millisecond
)

// TransientError marks err as worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err so Transient reports true. nil stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transient reports whether err is worth another attempt: errors marked with
// MarkTransient, network timeouts and context deadlines of the attempt itself.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Kind names the failure for triage.
func (e *ExhaustedError) Kind() string { return "retries_exhausted" }

// CaptureFunc records diagnostics for a failed operation.
type CaptureFunc func(ctx context.Context, op string, err error)

// Policy is a fixed-budget, fixed-backoff retry policy.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	Capture  CaptureFunc
	Log      zerolog.Logger
}

// Default returns the standard policy (3 attempts, 600ms apart).
func Default() Policy {
	return Policy{Attempts: DefaultAttempts, Backoff: DefaultBackoff, Log: zerolog.Nop()}
}

// Do calls fn until it succeeds, fails non-transiently, or the budget is spent.
// A cancelled ctx stops the loop during backoff.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: cancelled during backoff: %w", op, ctx.Err())
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			p.capture(ctx, op, lastErr)
			return lastErr
		}
		p.Log.Debug().Str("op", op).Int("attempt", attempt+1).Err(lastErr).Msg("transient failure, will retry")
	}

	err := &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
	p.capture(ctx, op, err)
	return err
}

func (p Policy) capture(ctx context.Context, op string, err error) {
	if p.Capture != nil {
		p.Capture(ctx, op, err)
	}
}
