package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/thomasbruketta/therapy-ops-agent/internal/acorn"
	"github.com/thomasbruketta/therapy-ops-agent/internal/config"
	"github.com/thomasbruketta/therapy-ops-agent/internal/jobs"
	"github.com/thomasbruketta/therapy-ops-agent/internal/ledger"
	"github.com/thomasbruketta/therapy-ops-agent/internal/logging"
	"github.com/thomasbruketta/therapy-ops-agent/internal/observability"
	"github.com/thomasbruketta/therapy-ops-agent/internal/reporting"
	"github.com/thomasbruketta/therapy-ops-agent/internal/retry"
	"github.com/thomasbruketta/therapy-ops-agent/internal/services"
	"github.com/thomasbruketta/therapy-ops-agent/internal/source"
)

const (
	sourceRecipients = "recipients"
	sourcePractice   = "practice"
)

// app holds the process-scoped collaborators shared by every subcommand.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	tracker *jobs.Tracker

	ledger      ledger.Ledger
	closeLedger func() error
	shutdown    observability.ShutdownFunc
}

// loadApp reads .env and the environment, then sets up logging, tracing and
// the ledger. The caller must call close.
func loadApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogPretty)

	shutdown, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	l, closeLedger, err := ledger.Open(ledger.Options{
		Backend: cfg.Ledger.Backend,
		Path:    cfg.Ledger.Path,
		DSN:     cfg.Ledger.DSN,
	}, ledger.WithLogger(log))
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	return &app{
		cfg:         cfg,
		log:         log,
		tracker:     &jobs.Tracker{},
		ledger:      l,
		closeLedger: closeLedger,
		shutdown:    shutdown,
	}, nil
}

func (a *app) close() {
	if err := a.closeLedger(); err != nil {
		a.log.Warn().Err(err).Msg("closing ledger")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("flushing traces")
	}
}

func (a *app) retryPolicy() retry.Policy {
	return retry.Policy{
		Attempts: a.cfg.Send.RetryAttempts,
		Backoff:  a.cfg.Send.RetryBackoff,
		Capture:  retry.FileCapture(a.cfg.Report.DiagnosticsDir, a.log),
		Log:      a.log,
	}
}

// sourceFlags are the recipient-selection flags shared by run and schedule.
type sourceFlags struct {
	recipients     []string
	recipientsPath string
	source         string
}

// buildSource picks the recipient source. With the recipients source,
// inline --recipient values win over the file; the practice source ignores
// both.
func (a *app) buildSource(f sourceFlags) (source.Source, error) {
	kind := strings.ToLower(strings.TrimSpace(f.source))
	if kind == "" {
		kind = a.cfg.RecipientSource
	}
	switch kind {
	case sourceRecipients:
		if len(f.recipients) > 0 {
			for _, r := range f.recipients {
				if _, err := source.ParseInline(r); err != nil {
					return nil, err
				}
			}
			return source.InlineSource{Entries: f.recipients}, nil
		}
		path := f.recipientsPath
		if path == "" {
			path = a.cfg.RecipientsPath
		}
		return source.FileSource{Path: path}, nil
	case sourcePractice:
		if len(f.recipients) > 0 {
			a.log.Warn().Int("count", len(f.recipients)).Msg("--recipient is ignored with the practice source")
		}
		return source.PracticeSource{
			BaseURL:     a.cfg.Practice.BaseURL,
			Token:       a.cfg.Practice.Token,
			ClinicianID: a.cfg.Practice.ClinicianID,
			HTTP:        &http.Client{Timeout: a.cfg.Send.Timeout},
			Retry:       a.retryPolicy(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown recipient source %q (want %s or %s)", f.source, sourceRecipients, sourcePractice)
	}
}

// buildSender returns nil when no credentials are configured; the job then
// refuses confirm-send with jobs.ErrMissingCredentials.
func (a *app) buildSender() (jobs.Sender, error) {
	if !a.cfg.Acorn.HasCredentials() {
		return nil, nil
	}
	c, err := acorn.New(acorn.Config{
		BaseURL:       a.cfg.Acorn.BaseURL,
		Username:      a.cfg.Acorn.Username,
		Password:      a.cfg.Acorn.Password,
		Timeout:       a.cfg.Send.Timeout,
		Retry:         a.retryPolicy(),
		RatePerSecond: a.cfg.Send.RateRPS,
		Burst:         a.cfg.Send.RateBurst,
		Log:           a.log,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ledgerLabel names the ledger in run envelopes without leaking a DSN.
func (a *app) ledgerLabel() string {
	switch a.cfg.Ledger.Backend {
	case ledger.BackendSQLite:
		return "sqlite:" + a.cfg.Ledger.DSN
	case ledger.BackendPostgres:
		return "postgres"
	}
	return a.cfg.Ledger.Path
}

// buildJob wires one DailySend from the config and the source flags.
func (a *app) buildJob(f sourceFlags) (*jobs.DailySend, error) {
	src, err := a.buildSource(f)
	if err != nil {
		return nil, err
	}
	sender, err := a.buildSender()
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}

	svc := services.NewSendService(a.ledger)
	svc.FormType = a.cfg.Acorn.FormVersion
	svc.MessageBody = a.cfg.Acorn.MessageTemplate
	svc.Log = a.log

	job := &jobs.DailySend{
		Cfg: jobs.Config{
			FormValue:         a.cfg.Acorn.FormValue,
			ClinicianID:       a.cfg.Acorn.ClinicianID,
			TextFrom:          a.cfg.Acorn.TextFrom,
			Location:          a.cfg.Location,
			WindowStartHour:   a.cfg.WindowHour,
			WindowStartMinute: a.cfg.WindowMinute,
			PrivacySalt:       a.cfg.PrivacySalt,
			Paths: reporting.PathConfig{
				Root:            a.cfg.Report.ArtifactRoot,
				SummaryTemplate: a.cfg.Report.SummaryTemplate,
				TriageTemplate:  a.cfg.Report.TriageTemplate,
			},
			LedgerPath:      a.ledgerLabel(),
			MetricsTextfile: a.cfg.Report.MetricsTextfile,
		},
		Source:  src,
		Service: svc,
		Sender:  sender,
		Tracker: a.tracker,
		Log:     a.log,
	}
	return job, nil
}

// seedLatestRun loads the newest run summary from the artifact root so the
// status server has something to report before this process runs a job.
func (a *app) seedLatestRun() error {
	env, found, err := reporting.LatestEnvelope(a.cfg.Report.ArtifactRoot)
	if err != nil || !found {
		return err
	}
	a.tracker.Record(env)
	return nil
}

// isSetupError reports whether err aborted a run before any recipient was
// processed.
func isSetupError(err error) bool {
	return errors.Is(err, jobs.ErrNoRecipients) ||
		errors.Is(err, jobs.ErrMissingCredentials) ||
		errors.Is(err, jobs.ErrInvalidDate)
}
