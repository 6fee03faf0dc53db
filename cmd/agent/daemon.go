package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/foldersync/agent/internal/version"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

// newDaemonCmd runs the agent headless: no banner, same command channel on
// stdin/stdout as the root command.
func newDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the FolderSync agent headless",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			slog.Info("foldersync", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

			defer slog.Info("Bye!")
			if err := runAgent(cmd); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon stopped", "error", err)
				return err
			}
			return nil
		},
	}

	return daemonCmd
}
