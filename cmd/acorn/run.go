package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thomasbruketta/therapy-ops-agent/internal/jobs"
	"github.com/thomasbruketta/therapy-ops-agent/internal/reporting"
)

type runOptions struct {
	mode        string
	dryRun      bool
	confirmSend bool
	date        string
	since       string
	summaryOut  string
	triageOut   string
	src         sourceFlags
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily send once",
		Long: `Evaluate the day's recipients and, in confirm-send mode, send each
eligible client one reminder. Dry-run is the default.

Examples:
  # Preview today's sends
  acorn run

  # Send for a specific day
  acorn run --date 2026-01-10 --confirm-send

  # Ad-hoc recipients
  acorn run --recipient "Jane Example|+15551112222" --recipient "John Doe|5553334444"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.mode, "mode", "", "Run mode: dry-run or confirm-send")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Preview without sending (default)")
	f.BoolVar(&opts.confirmSend, "confirm-send", false, "Send reminders")
	f.StringVar(&opts.date, "date", "", "Target date (YYYY-MM-DD); defaults to today (UTC)")
	f.StringVar(&opts.since, "since", "", "ISO-8601 datetime; its date is used when --date is absent")
	f.StringVar(&opts.summaryOut, "summary-out", "", "Explicit summary JSON path")
	f.StringVar(&opts.triageOut, "triage-out", "", "Explicit triage Markdown path")
	addSourceFlags(cmd, &opts.src)
	cmd.MarkFlagsMutuallyExclusive("dry-run", "confirm-send", "mode")

	return cmd
}

func addSourceFlags(cmd *cobra.Command, f *sourceFlags) {
	cmd.Flags().StringArrayVar(&f.recipients, "recipient", nil, `Inline recipient "First Last|+15551234567" (repeatable)`)
	cmd.Flags().StringVar(&f.recipientsPath, "recipients-path", "", "JSON or YAML recipients file (default $ACORN_RECIPIENTS_PATH)")
	cmd.Flags().StringVar(&f.source, "source", "", "Recipient source: recipients or practice (default $ACORN_RECIPIENT_SOURCE)")
}

// resolveMode folds --mode, --dry-run and --confirm-send into one Mode.
func resolveMode(mode string, dryRun, confirmSend bool) (reporting.Mode, error) {
	switch {
	case confirmSend:
		return reporting.ModeConfirmSend, nil
	case dryRun:
		return reporting.ModeDryRun, nil
	}
	return reporting.ParseMode(mode)
}

func runOnce(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()

	mode, err := resolveMode(opts.mode, opts.dryRun, opts.confirmSend)
	if err != nil {
		return err
	}
	date, err := jobs.ResolveDate(opts.date, opts.since, time.Now())
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

	res, err := job.Run(ctx, jobs.Params{
		Date:       date,
		Mode:       mode,
		SummaryOut: opts.summaryOut,
		TriageOut:  opts.triageOut,
	})
	if err != nil {
		if isSetupError(err) {
			a.log.Error().Err(err).Str("date", date).Str("mode", string(mode)).Msg("run aborted before processing")
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s complete. summary=%s triage=%s\n",
		res.Envelope.RunID, res.SummaryPath, res.TriagePath)
	return nil
}
