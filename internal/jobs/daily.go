// Package jobs runs the daily intake-reminder send: list the day's recipients,
// evaluate each one, dispatch through the sender, and write the run envelope
// alongside the dispatch triage files.
//
// Findings in the envelope reference a salted recipient token, never a name.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thomasbruketta/therapy-ops-agent/internal/acorn"
	"github.com/thomasbruketta/therapy-ops-agent/internal/dispatch"
	"github.com/thomasbruketta/therapy-ops-agent/internal/domain"
	"github.com/thomasbruketta/therapy-ops-agent/internal/identity"
	"github.com/thomasbruketta/therapy-ops-agent/internal/ledger"
	"github.com/thomasbruketta/therapy-ops-agent/internal/reporting"
	"github.com/thomasbruketta/therapy-ops-agent/internal/services"
	"github.com/thomasbruketta/therapy-ops-agent/internal/source"
)

const (
	// DefaultFormValue is the form file submitted to the sender.
	DefaultFormValue = "Adult-Ver14-UNIV-28236-Online.pdf"

	reasonMissingNameParts = "missing_name_parts"
)

var jobRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "acorn_job_runs_total",
		Help: "Completed daily send runs by mode and disposition.",
	},
	[]string{"mode", "disposition"},
)

func init() {
	prometheus.MustRegister(jobRuns)
}

// Sender is the external mobile-forms service. *acorn.Client satisfies it.
type Sender interface {
	Login(ctx context.Context) error
	Send(ctx context.Context, f acorn.SendFields) (acorn.SendResult, error)
	Verify(ctx context.Context, sendCtx map[string]string) (bool, error)
}

// Config holds the run-level settings of the daily job.
type Config struct {
	FormValue   string
	ClinicianID string
	TextFrom    string

	// Eligibility window start in Location. A nil Location means UTC.
	Location          *time.Location
	WindowStartHour   int
	WindowStartMinute int

	PrivacySalt string
	Paths       reporting.PathConfig
	LedgerPath  string
	Source      reporting.SourceInfo

	// MetricsTextfile, when set, receives the prometheus registry after a run.
	MetricsTextfile string
}

// DailySend is one configured daily job. Sender is only needed in
// confirm-send mode.
type DailySend struct {
	Cfg     Config
	Source  source.Source
	Service *services.SendService
	Sender  Sender
	Tracker *Tracker

	Log zerolog.Logger
	Now func() time.Time
}

// Params selects the day and mode of one run.
type Params struct {
	Date string // YYYY-MM-DD
	Mode reporting.Mode

	// Explicit output paths; empty uses Cfg.Paths.
	SummaryOut string
	TriageOut  string
}

// Result is everything a run produced.
type Result struct {
	Envelope    reporting.Envelope
	SummaryPath string
	TriagePath  string
	Dispatch    dispatch.Result
}

// ResolveDate picks the target date: an explicit date wins, then the date
// portion of an ISO-8601 since value, else today in UTC.
func ResolveDate(date, since string, now time.Time) (string, error) {
	if d := strings.TrimSpace(date); d != "" {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDate, d)
		}
		return d, nil
	}
	if s := strings.TrimSpace(since); s != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", time.DateOnly} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(time.DateOnly), nil
			}
		}
		return "", fmt.Errorf("invalid --since value %q", s)
	}
	return now.UTC().Format(time.DateOnly), nil
}

// Run executes one daily send. Setup problems (bad date, no recipients,
// missing credentials, sender login failure) are returned before any
// recipient is processed. Per-recipient problems end up in the envelope.
func (j *DailySend) Run(ctx context.Context, p Params) (Result, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	started := now()

	day, err := time.Parse(time.DateOnly, p.Date)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidDate, p.Date)
	}
	if j.Service == nil {
		return Result{}, ErrNoService
	}
	mode := p.Mode
	if mode == "" {
		mode = reporting.ModeDryRun
	}
	if !mode.DryRun() && j.Sender == nil {
		return Result{}, ErrMissingCredentials
	}

	tr := otel.Tracer("jobs/DailySend")
	ctx, span := tr.Start(ctx, "Run",
		trace.WithAttributes(
			attribute.String("job.date", p.Date),
			attribute.String("job.mode", string(mode)),
		),
	)
	defer span.End()

	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	if j.Source == nil {
		return fail(ErrNoRecipients)
	}
	appts, err := j.Source.ListAppointments(ctx, p.Date)
	if err != nil {
		return fail(fmt.Errorf("list recipients: %w", err))
	}
	if len(appts) == 0 {
		return fail(ErrNoRecipients)
	}

	if !mode.DryRun() {
		if err := j.Sender.Login(ctx); err != nil {
			if errors.Is(err, acorn.ErrMissingCredentials) {
				return fail(ErrMissingCredentials)
			}
			return fail(fmt.Errorf("sender login: %w", err))
		}
	}

	t := &tally{}
	opts := dispatch.Options{
		DryRun:       mode.DryRun(),
		RunKey:       ledger.RunKey(p.Date),
		ArtifactsDir: j.Cfg.Paths.Root,
		ReportDate:   p.Date,
		Logger:       j.Log,
		Now:          now,
	}

	var dres dispatch.Result
	if mode.DryRun() {
		j.preview(ctx, p.Date, appts, t)
		dres, err = dispatch.Run(ctx, appts, nil, opts)
	} else {
		dres, err = dispatch.Run(ctx, appts, j.sendFunc(p.Date, t), opts)
		if extra := dres.Summary.Failed.Total - t.errors; extra > 0 {
			t.errors += extra
			t.note(reporting.SeverityCritical, fmt.Sprintf("%d send attempt(s) aborted unexpectedly; see triage records.", extra))
		}
	}
	if err != nil {
		return fail(fmt.Errorf("dispatch: %w", err))
	}

	finished := now()
	env := reporting.Envelope{
		RunID:  reporting.RunID(mode, started),
		Mode:   mode,
		Source: j.sourceInfo(),
		Window: reporting.NewWindow(day, j.location(), j.Cfg.WindowStartHour, j.Cfg.WindowStartMinute, finished),
		Totals: reporting.Totals{
			Evaluated: len(appts),
			Eligible:  t.eligible,
			Sent:      t.sent,
			Skipped:   t.skipped,
			Errors:    t.errors,
			DryRun:    mode.DryRun(),
		},
		Idempotency: reporting.IdempotencyInfo{
			StorePath:      j.Cfg.LedgerPath,
			NewKeysWritten: t.newKeys,
		},
		Notes: t.notes,
	}

	summaryPath, triagePath := reporting.EnvelopePaths(j.Cfg.Paths, mode, p.Date, started)
	if p.SummaryOut != "" {
		summaryPath = p.SummaryOut
	}
	if p.TriageOut != "" {
		triagePath = p.TriageOut
	}
	if err := reporting.WriteEnvelope(env, summaryPath, triagePath); err != nil {
		return fail(err)
	}

	if j.Cfg.MetricsTextfile != "" {
		if err := dispatch.WriteMetricsTextfile(j.Cfg.MetricsTextfile); err != nil {
			j.Log.Warn().Err(err).Str("path", j.Cfg.MetricsTextfile).Msg("metrics textfile not written")
		}
	}

	jobRuns.WithLabelValues(string(mode), env.Disposition()).Inc()
	if j.Tracker != nil {
		j.Tracker.Record(env)
	}

	span.SetAttributes(
		attribute.String("job.run_id", env.RunID),
		attribute.Int("job.eligible", t.eligible),
		attribute.Int("job.errors", t.errors),
	)
	j.Log.Info().
		Str("run_id", env.RunID).
		Str("mode", string(mode)).
		Int("evaluated", len(appts)).
		Int("eligible", t.eligible).
		Int("sent", t.sent).
		Int("skipped", t.skipped).
		Int("errors", t.errors).
		Str("disposition", env.Disposition()).
		Str("summary_path", summaryPath).
		Str("triage_path", triagePath).
		Msg("daily send complete")

	return Result{
		Envelope:    env,
		SummaryPath: summaryPath,
		TriagePath:  triagePath,
		Dispatch:    dres,
	}, nil
}

// candidate is one appointment after the structural checks.
type candidate struct {
	token  string
	req    domain.SendRequest
	skip   string // reason when structurally ineligible
	detail string
}

func (j *DailySend) prepare(date string, appt domain.Appointment) candidate {
	formType, body := j.Service.Content()
	c := candidate{token: identity.RecipientToken(j.Cfg.PrivacySalt, appt.ClientName, appt.Phone)}

	parts := identity.SplitName(appt.ClientName)
	if len(parts) < 2 {
		c.skip, c.detail = reasonMissingNameParts, "missing first/last name parts"
		return c
	}
	if strings.TrimSpace(appt.Phone) == "" {
		c.skip, c.detail = string(domain.IssueMissingPhone), "missing phone number"
		return c
	}
	if _, ok := identity.ValidatePhone(appt.Phone); !ok {
		c.skip, c.detail = string(domain.IssueInvalidPhone), "invalid phone number"
		return c
	}

	c.req = domain.SendRequest{
		Date:        date,
		FormType:    formType,
		MessageBody: body,
		Appointment: appt,
		Client: domain.ClientDetails{
			NameParts: []string{parts[0], parts[len(parts)-1]},
			Phone:     appt.Phone,
		},
	}
	return c
}

// preview evaluates every appointment without side effects. A client seen
// twice in one run is deduped the same way the ledger would dedupe it.
func (j *DailySend) preview(ctx context.Context, date string, appts []domain.Appointment, t *tally) {
	seen := map[string]bool{}
	for _, appt := range appts {
		c := j.prepare(date, appt)
		if c.skip != "" {
			t.skipHigh(c)
			continue
		}
		res, err := j.Service.Check(ctx, c.req)
		switch {
		case err != nil:
			t.ledgerError(c, err)
		case res.HasOnly(domain.IssueDuplicateSend), len(res.Issues) == 0 && seen[res.IdempotencyKey]:
			t.skipDuplicate(c)
		case len(res.Issues) > 0:
			t.blocked(c, res)
		default:
			seen[res.IdempotencyKey] = true
			t.eligible++
			t.sent++
			t.note(reporting.SeverityInfo, fmt.Sprintf("Would send to recipient `%s`.", c.token))
		}
	}
}

// sendFunc builds the live per-appointment operation: reserve the key, send,
// then verify. The key is reserved before the external call, so a send that
// fails afterwards is not retried for the same day.
func (j *DailySend) sendFunc(date string, t *tally) dispatch.SendFunc {
	return func(ctx context.Context, appt domain.Appointment) (bool, error) {
		c := j.prepare(date, appt)
		if c.skip != "" {
			t.skipHigh(c)
			return false, &dispatch.SkipError{Why: c.skip}
		}

		res, err := j.Service.Orchestrate(ctx, c.req)
		if err != nil {
			t.ledgerError(c, err)
			return false, err
		}
		if !res.Sent {
			if res.HasOnly(domain.IssueDuplicateSend) {
				t.skipDuplicate(c)
				return false, dispatch.Skip(domain.IssueDuplicateSend)
			}
			t.blocked(c, res)
			return false, &services.BlockedError{Result: res}
		}
		t.eligible++
		t.newKeys++

		_, body := j.Service.Content()
		sr, err := j.Sender.Send(ctx, acorn.SendFields{
			ClinicianID: j.Cfg.ClinicianID,
			FormValue:   orDefault(j.Cfg.FormValue, DefaultFormValue),
			ClientID:    identity.DeriveClientID(c.req.Client.NameParts),
			Phone:       res.NormalizedPhone,
			Message:     body,
			SendVia:     acorn.SendViaText,
			TextFrom:    j.Cfg.TextFrom,
		})
		if err != nil {
			t.sendFailed(c)
			return false, err
		}
		ok := sr.Success
		if ok {
			ok, err = j.Sender.Verify(ctx, sr.Context)
		}
		if err != nil || !ok {
			t.sendFailed(c)
			return false, err
		}

		t.sent++
		t.note(reporting.SeverityInfo, fmt.Sprintf("Sent successfully to recipient `%s`.", c.token))
		return true, nil
	}
}

func (j *DailySend) location() *time.Location {
	if j.Cfg.Location == nil {
		return time.UTC
	}
	return j.Cfg.Location
}

func (j *DailySend) sourceInfo() reporting.SourceInfo {
	si := j.Cfg.Source
	if si.System == "" {
		si.System = "acorn"
	}
	if si.AccessMethod == "" {
		si.AccessMethod = "api"
	}
	return si
}

// tally accumulates envelope counters and findings for one run.
type tally struct {
	eligible, sent, skipped, errors int
	newKeys                         int
	notes                           []string
}

func (t *tally) note(sev reporting.Severity, text string) {
	t.notes = append(t.notes, reporting.Finding{Severity: sev, Text: text}.String())
}

func (t *tally) skipHigh(c candidate) {
	t.skipped++
	t.note(reporting.SeverityHigh, fmt.Sprintf("Skipped recipient `%s`: %s.", c.token, c.detail))
}

func (t *tally) skipDuplicate(c candidate) {
	t.skipped++
	t.note(reporting.SeverityLow, fmt.Sprintf("Skipped recipient `%s`: idempotency dedupe.", c.token))
}

func (t *tally) blocked(c candidate, res domain.SendResult) {
	t.errors++
	ids := make([]string, 0, len(res.Issues))
	for _, is := range res.Issues {
		ids = append(ids, string(is.Code))
	}
	t.note(reporting.SeverityCritical, fmt.Sprintf("Blocked recipient `%s`: %s.", c.token, strings.Join(ids, ", ")))
}

func (t *tally) ledgerError(c candidate, err error) {
	t.errors++
	t.note(reporting.SeverityCritical, fmt.Sprintf("Ledger unavailable for recipient `%s`: %s.", c.token, dispatch.ErrorKind(err)))
}

func (t *tally) sendFailed(c candidate) {
	t.errors++
	t.note(reporting.SeverityCritical, fmt.Sprintf("Send failed or unverified for recipient `%s`.", c.token))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
