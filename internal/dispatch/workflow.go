// Package dispatch runs a batch of appointments through the sender and turns
// every item into exactly one terminal record.
//
// Per item the state machine is
//
//	pending -> skipped(dry_run)
//	pending -> attempted -> sent | failed(reason) | skipped(reason)
//
// In dry-run mode the sender is never called. In live mode a sender error or
// panic is caught once per item, here, and recorded as a failure so one bad
// appointment cannot abort the batch. Items are processed strictly in input
// order.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/thomasbruketta/therapy-ops-agent/internal/domain"
	"github.com/thomasbruketta/therapy-ops-agent/internal/logging"
	"github.com/thomasbruketta/therapy-ops-agent/internal/reporting"
)

const (
	// DefaultStep is the workflow_step logged when Options.Step is empty.
	DefaultStep = "appointment_dispatch"
	// DefaultArtifactsDir receives triage files when Options.ArtifactsDir is empty.
	DefaultArtifactsDir = "artifacts"
)

// ErrNoSender is returned for a live run without a sender.
var ErrNoSender = errors.New("dispatch: live run requires a sender")

// SendFunc performs the external send for one appointment. Returning a
// SkipError marks the item skipped instead of failed.
type SendFunc func(ctx context.Context, appt domain.Appointment) (bool, error)

// Options configures one batch.
type Options struct {
	DryRun bool

	// RunKey is the coarse run-level key logged on every record, e.g.
	// "acorn:2026-01-10". It is never checked against the ledger.
	RunKey string
	Step   string

	ArtifactsDir string
	// ReportDate (YYYY-MM-DD) names the triage files. Empty means today (UTC).
	ReportDate string

	Logger zerolog.Logger
	Now    func() time.Time
}

// Result is the composite return of Run.
type Result struct {
	Summary    reporting.Summary
	Records    []reporting.Record
	TriageJSON string
	TriageMD   string
}

// Run processes appts and writes the triage artifacts. The only errors it
// returns are a missing sender in live mode and artifact write failures;
// per-item failures are records, not errors.
func Run(ctx context.Context, appts []domain.Appointment, send SendFunc, opts Options) (Result, error) {
	if !opts.DryRun && send == nil {
		return Result{}, ErrNoSender
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	step := opts.Step
	if step == "" {
		step = DefaultStep
	}
	dir := opts.ArtifactsDir
	if dir == "" {
		dir = DefaultArtifactsDir
	}
	reportDate := opts.ReportDate
	if reportDate == "" {
		reportDate = now().UTC().Format(time.DateOnly)
	}

	tr := otel.Tracer("dispatch/Workflow")
	ctx, span := tr.Start(ctx, "Run",
		trace.WithAttributes(
			attribute.Bool("dispatch.dry_run", opts.DryRun),
			attribute.Int("dispatch.items", len(appts)),
			attribute.String("dispatch.run_key", opts.RunKey),
		),
	)
	defer span.End()

	log := opts.Logger
	records := make([]reporting.Record, 0, len(appts))

	for _, appt := range appts {
		ev := logging.WorkflowEvent{
			Step:           step,
			ClientName:     appt.ClientName,
			IdempotencyKey: opts.RunKey,
		}

		var out Outcome
		if opts.DryRun {
			out = Skipped{Why: string(domain.IssueDryRun)}
			ev.Message = "Dry-run: send skipped"
		} else {
			ev.Status, ev.Message = reporting.StatusAttempted, "Attempting send"
			logging.Emit(log, ev)

			start := time.Now()
			var err error
			out, err = attempt(ctx, send, appt)
			sendDuration.Observe(time.Since(start).Seconds())

			switch {
			case err != nil:
				ev.Message = "Send raised error"
				ev.ErrorCode = strings.ToUpper(out.Reason())
				ev.ErrorMessage = err.Error()
			case out.Status() == reporting.StatusFailed:
				ev.Message = "Send failed"
				ev.ErrorCode = "SEND_FALSE"
				ev.ErrorMessage = "Sender returned false"
			case out.Status() == reporting.StatusSkipped:
				ev.Message = "Send skipped: " + out.Reason()
			default:
				ev.Message = "Send succeeded"
			}
		}

		ev.Status = out.Status()
		logging.Emit(log, ev)
		recordsTotal.WithLabelValues(out.Status(), out.Reason()).Inc()

		records = append(records, reporting.Record{
			ClientName:     logging.MaskClientName(appt.ClientName),
			IdempotencyKey: opts.RunKey,
			Status:         out.Status(),
			Reason:         out.Reason(),
		})
	}

	summary := reporting.ComputeSummary(records, len(appts))
	span.SetAttributes(
		attribute.Int("dispatch.sent", summary.SuccessfulSends),
		attribute.Int("dispatch.failed", summary.Failed.Total),
		attribute.Int("dispatch.skipped", summary.Skipped.Total),
	)
	lastRun.SetToCurrentTime()

	paths, err := reporting.WriteTriage(dir, reporting.Triage{
		Date:    reportDate,
		Summary: summary,
		Records: records,
	})
	if err != nil {
		span.RecordError(err)
		return Result{Summary: summary, Records: records}, err
	}

	return Result{
		Summary:    summary,
		Records:    records,
		TriageJSON: paths.JSON,
		TriageMD:   paths.Markdown,
	}, nil
}
