package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/thomasbruketta/therapy-ops-agent/internal/domain"
	"github.com/thomasbruketta/therapy-ops-agent/internal/reporting"
)

// Outcome is the terminal state of one appointment: Sent, Failed or Skipped.
type Outcome interface {
	Status() string
	Reason() string
	isOutcome()
}

// Sent means the sender reported success.
type Sent struct{}

// Failed carries the failure reason.
type Failed struct{ Why string }

// Skipped carries the reason the sender was not called or the send was a no-op.
type Skipped struct{ Why string }

func (Sent) Status() string { return reporting.StatusSent }
func (Sent) Reason() string { return "" }
func (Sent) isOutcome()     {}

func (Failed) Status() string   { return reporting.StatusFailed }
func (f Failed) Reason() string { return f.Why }
func (Failed) isOutcome()       {}

func (Skipped) Status() string   { return reporting.StatusSkipped }
func (s Skipped) Reason() string { return s.Why }
func (Skipped) isOutcome()       {}

// SkipError lets a sender report that an item was deliberately not sent (for
// example an idempotency duplicate). It becomes a Skipped outcome instead of a
// failure.
type SkipError struct {
	Why string
}

func (e *SkipError) Error() string { return "send skipped: " + e.Why }

// Kind returns the skip reason.
func (e *SkipError) Kind() string { return e.Why }

// Skip returns a SkipError for reason.
func Skip(reason domain.IssueCode) error { return &SkipError{Why: string(reason)} }

// PanicError wraps a value recovered from a panicking sender.
type PanicError struct{ Value any }

func (e *PanicError) Error() string { return fmt.Sprintf("sender panicked: %v", e.Value) }

// Kind implements the kind contract used by ErrorKind.
func (e *PanicError) Kind() string { return "panic" }

// ErrorKind names the category of err for triage. An error anywhere in the
// chain with a Kind() string method wins; otherwise the dynamic type name of
// the outermost error is used, skipping fmt wrappers, with pointers and the
// package path stripped (errors.New yields "errorString").
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		if kind := k.Kind(); kind != "" {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "DeadlineExceeded"
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}

	for {
		t := reflect.TypeOf(err)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.PkgPath() == "fmt" && strings.HasPrefix(t.Name(), "wrapError") {
			if inner := errors.Unwrap(err); inner != nil {
				err = inner
				continue
			}
		}
		if t.Name() == "" {
			return "error"
		}
		return t.Name()
	}
}

// attempt runs send for one appointment and folds every result, error or
// panic into an Outcome. It is the only place sender errors are caught.
func attempt(ctx context.Context, send SendFunc, appt domain.Appointment) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
			out = Failed{Why: ErrorKind(err)}
		}
	}()

	ok, err := send(ctx, appt)
	if err != nil {
		var skip *SkipError
		if errors.As(err, &skip) {
			return Skipped{Why: skip.Why}, nil
		}
		return Failed{Why: ErrorKind(err)}, err
	}
	if !ok {
		return Failed{Why: string(domain.IssueSendReturnedFalse)}, nil
	}
	return Sent{}, nil
}
