// Package cli implements syncwardenctl, a command-line client for the daemon's HTTP API.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"syncwarden/internal/logging"
)

var (
	flagAddr     string
	flagToken    string
	flagLogLevel string

	logger *slog.Logger
	client *Client
)

// defaultAddr returns the daemon URL, checking SYNCWARDEN_URL first.
func defaultAddr() string {
	if s := os.Getenv("SYNCWARDEN_URL"); s != "" {
		return s
	}
	return "http://127.0.0.1:7171"
}

// NewRootCmd creates the root cobra command for syncwardenctl.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "syncwardenctl",
		Short: "Control a running syncwarden daemon",
		Long:  "syncwardenctl lists scheduled tasks, triggers the sync cycle and inspects recent runs.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewWithWriter(flagLogLevel, "text", cmd.ErrOrStderr())
			client = NewClient(flagAddr, flagToken, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagAddr, "server", defaultAddr(), "Daemon URL (or SYNCWARDEN_URL env)")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("SYNCWARDEN_AUTH_TOKEN"), "API token (or SYNCWARDEN_AUTH_TOKEN env)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newTasksCmd(),
		newWorkflowCmd(),
		newRunsCmd(),
		newNextCmd(),
		newPreviewCmd(),
		newProcessesCmd(),
	)

	return root
}
