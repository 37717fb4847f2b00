package cli

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var window, taskName string
	cmd := &cobra.Command{
		Use:   "runs [run_id]",
		Short: "List recent runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				var r run
				if err := client.Get(cmd.Context(), "/v1/runs/"+url.PathEscape(args[0]), &r); err != nil {
					return fmt.Errorf("get run: %w", err)
				}
				printRun(out, r)
				return nil
			}

			query := url.Values{}
			query.Set("window", window)
			if taskName != "" {
				query.Set("task", taskName)
			}
			var runs []run
			if err := client.Get(cmd.Context(), "/v1/runs?"+query.Encode(), &runs); err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs in the window.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-16s  %-10s  %-12s  %s\n", "ID", "TASK", "OUTCOME", "STATE", "STARTED")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s  %-16s  %-10s  %-12s  %s\n", r.ID, r.TaskID, r.Outcome, r.FinalState, r.StartedAt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&window, "window", "24h", "Only runs started within this duration; 0 for all")
	cmd.Flags().StringVar(&taskName, "task", "", "Only runs of this task")
	return cmd
}

func printRun(out io.Writer, r run) {
	fmt.Fprintf(out, "Run: %s\n", r.ID)
	fmt.Fprintf(out, "  Task:    %s\n", r.TaskID)
	fmt.Fprintf(out, "  Outcome: %s\n", r.Outcome)
	if r.FinalState != "" {
		fmt.Fprintf(out, "  State:   %s\n", r.FinalState)
	}
	fmt.Fprintf(out, "  Started: %s\n", r.StartedAt)
	if r.EndedAt != nil {
		fmt.Fprintf(out, "  Ended:   %s\n", *r.EndedAt)
	}
	if len(r.Steps) > 0 {
		fmt.Fprintln(out, "  Steps:")
		printSteps(out, r.Steps)
	}
	if r.Error != nil {
		fmt.Fprintf(out, "  Error:   %s\n", *r.Error)
	}
}
