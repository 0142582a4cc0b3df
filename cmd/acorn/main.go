// acorn runs the daily intake-form reminder job.
//
// Usage:
//
//	acorn run --date 2026-01-10                 # dry-run preview
//	acorn run --date 2026-01-10 --confirm-send  # live send
//	acorn run --recipient "Jane Example|+15551112222"
//	acorn schedule                              # daily at 08:00 America/Los_Angeles
//	acorn schedule --once
//	acorn serve                                 # status server only
//	acorn purge
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "acorn",
		Short: "Send and triage Acorn intake-form reminders",
		Long: `acorn evaluates the day's recipients, sends each eligible client one
intake-form reminder (at most once per client per day), and writes a run
summary plus a triage report for every run.

Configuration comes from the environment (and a .env file when present).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}
