package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasbruketta/therapy-ops-agent/internal/config"
)

// runtimeRoot is a variable so tests can point purge at a temp dir.
var runtimeRoot = config.RuntimeRoot

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete local runtime state",
		Long: `Remove ` + config.RuntimeRoot + `: the default ledger, run artifacts and
diagnostics. A later confirm-send run will no longer see earlier sends
recorded there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.RemoveAll(runtimeRoot); err != nil {
				return fmt.Errorf("purge %s: %w", runtimeRoot, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %s\n", runtimeRoot)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
