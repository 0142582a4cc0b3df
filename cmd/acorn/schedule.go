package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/thomasbruketta/therapy-ops-agent/internal/http"
	"github.com/thomasbruketta/therapy-ops-agent/internal/jobs"
	"github.com/thomasbruketta/therapy-ops-agent/internal/reporting"
	"github.com/thomasbruketta/therapy-ops-agent/internal/scheduler"
)

const shutdownGrace = 10 * time.Second

type scheduleOptions struct {
	once bool
	mode string
	src  sourceFlags
}

func scheduleCmd() *cobra.Command {
	var opts scheduleOptions

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily send every day at SCHEDULE_AT",
		Long: `Run the daily send once per day at SCHEDULE_AT (default 08:00) in
ACORN_TIMEZONE. Missed triggers are coalesced; a trigger later than
SCHEDULE_MISFIRE_GRACE is skipped. The status server runs alongside unless
HTTP_ADDR=off.

Examples:
  # Long-running scheduler
  acorn schedule --mode confirm-send

  # Run the job right now and exit
  acorn schedule --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.once, "once", false, "Run the job immediately and exit")
	cmd.Flags().StringVar(&opts.mode, "mode", string(reporting.ModeDryRun), "Run mode: dry-run or confirm-send")
	addSourceFlags(cmd, &opts.src)

	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /health, /metrics and the latest run",
		Long: `Start only the status server on HTTP_ADDR. The latest run is read from
the newest summary under ACORN_ARTIFACT_ROOT.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

// scheduledJob runs the daily send for "today" in the configured zone.
func scheduledJob(a *app, job *jobs.DailySend, mode reporting.Mode) scheduler.Job {
	return func(ctx context.Context) error {
		date := time.Now().In(a.cfg.Location).Format(time.DateOnly)
		res, err := job.Run(ctx, jobs.Params{Date: date, Mode: mode})
		if err != nil {
			return err
		}
		a.log.Info().
			Str("run_id", res.Envelope.RunID).
			Str("disposition", res.Envelope.Disposition()).
			Str("summary", res.SummaryPath).
			Str("triage", res.TriagePath).
			Msg("scheduled run complete")
		return nil
	}
}

func runSchedule(cmd *cobra.Command, opts scheduleOptions) error {
	ctx := cmd.Context()

	mode, err := reporting.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.buildJob(opts.src)
	if err != nil {
		return err
	}
	run := scheduledJob(a, job, mode)

	if opts.once {
		a.log.Info().Str("mode", string(mode)).Msg("running daily send once")
		if err := run(ctx); err != nil {
			return err
		}
		a.log.Info().Msg("manual execution completed")
		return nil
	}

	s := &scheduler.Scheduler{
		Hour:         a.cfg.Schedule.Hour,
		Minute:       a.cfg.Schedule.Minute,
		Location:     a.cfg.Location,
		MisfireGrace: a.cfg.Schedule.MisfireGrace,
		Log:          a.log,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx, run) })
	if a.cfg.HTTP.Addr != "" {
		srv := httpapi.NewServer(httpapi.Deps{Runs: a.tracker, Version: version, Log: a.log}, a.cfg)
		g.Go(func() error { return httpapi.Serve(gctx, srv, shutdownGrace, a.log) })
	}
	return g.Wait()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.HTTP.Addr == "" {
		return errors.New("HTTP_ADDR is off; nothing to serve")
	}
	if err := a.seedLatestRun(); err != nil {
		a.log.Warn().Err(err).Msg("could not load latest run summary")
	}

	srv := httpapi.NewServer(httpapi.Deps{Runs: a.tracker, Version: version, Log: a.log}, a.cfg)
	if err := httpapi.Serve(ctx, srv, shutdownGrace, a.log); err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}
