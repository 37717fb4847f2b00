package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run or inspect the sync cycle",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the sync cycle now, subject to the cooldown",
			RunE: func(cmd *cobra.Command, args []string) error {
				var res result
				if err := client.Post(cmd.Context(), "/v1/workflow/run", nil, &res); err != nil {
					return fmt.Errorf("run workflow: %w", err)
				}
				printResult(cmd.OutOrStdout(), "workflow", res)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the last cycle and the remaining cooldown",
			RunE: func(cmd *cobra.Command, args []string) error {
				var status workflowStatus
				if err := client.Get(cmd.Context(), "/v1/workflow/last", &status); err != nil {
					return fmt.Errorf("workflow status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Task:     %s\n", status.Task)
				if status.CooldownRemaining > 0 {
					remaining := time.Duration(status.CooldownRemaining * float64(time.Second)).Round(time.Second)
					fmt.Fprintf(out, "Cooldown: %s remaining\n", remaining)
				} else {
					fmt.Fprintln(out, "Cooldown: ready")
				}
				if status.LastRun == nil {
					fmt.Fprintln(out, "Last run: never")
					return nil
				}
				fmt.Fprintln(out, "Last run:")
				printRun(cmd.OutOrStdout(), *status.LastRun)
				return nil
			},
		},
	)
	return cmd
}
