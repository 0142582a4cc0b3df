// Package services holds the send orchestration logic. This file centralizes
// the service-level error values so that callers (the dispatch workflow and the
// daily job) can check them consistently with errors.Is / errors.As.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thomasbruketta/therapy-ops-agent/internal/domain"
)

var (
	// ErrNoLedger is returned when a SendService is used without a ledger.
	ErrNoLedger = errors.New("send service has no ledger")

	// ErrLedgerRead wraps a failed ledger membership check.
	ErrLedgerRead = errors.New("ledger lookup failed")

	// ErrLedgerWrite wraps a failed MarkSent on an otherwise valid request.
	// The request is not reported as sent.
	ErrLedgerWrite = errors.New("ledger write failed")
)

// LedgerError wraps a failed ledger call made while orchestrating. It matches
// ErrLedgerRead or ErrLedgerWrite with errors.Is.
type LedgerError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *LedgerError) Error() string { return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err) }
func (e *LedgerError) Unwrap() error { return e.Err }

// Kind returns "ledger_read" or "ledger_write".
func (e *LedgerError) Kind() string { return "ledger_" + e.Op }

func (e *LedgerError) Is(target error) bool {
	switch target {
	case ErrLedgerRead:
		return e.Op == "read"
	case ErrLedgerWrite:
		return e.Op == "write"
	}
	return false
}

// BlockedError reports an orchestration that collected one or more triage
// issues. It lets a blocked request travel through an error channel while
// keeping the full SendResult available via errors.As.
type BlockedError struct {
	Result domain.SendResult
}

func (e *BlockedError) Error() string {
	codes := make([]string, 0, len(e.Result.Issues))
	for _, is := range e.Result.Issues {
		codes = append(codes, string(is.Code))
	}
	return "send blocked: " + strings.Join(codes, ", ")
}

// Kind returns the first issue code, which is used as the failure reason.
func (e *BlockedError) Kind() string {
	if len(e.Result.Issues) == 0 {
		return "blocked"
	}
	return string(e.Result.Issues[0].Code)
}
