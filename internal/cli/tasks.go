package cli

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List scheduled tasks",
			RunE: func(cmd *cobra.Command, args []string) error {
				var tasks []task
				if err := client.Get(cmd.Context(), "/v1/tasks", &tasks); err != nil {
					return fmt.Errorf("list tasks: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks scheduled.")
					return nil
				}
				fmt.Fprintf(out, "%-20s  %-8s  %-12s  %-22s  %s\n", "NAME", "ENABLED", "LAST", "NEXT", "TRIGGER")
				for _, t := range tasks {
					fmt.Fprintf(out, "%-20s  %-8t  %-12s  %-22s  %s\n", t.Name, t.Enabled, t.LastOutcome, deref(t.NextRunAt), t.Description)
				}
				return nil
			},
		},
		newSetEnabledCmd("enable", true),
		newSetEnabledCmd("disable", false),
		&cobra.Command{
			Use:   "run <name>",
			Short: "Run a task now and wait for the result",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var res result
				if err := client.Post(cmd.Context(), "/v1/tasks/"+url.PathEscape(args[0])+"/run", nil, &res); err != nil {
					return fmt.Errorf("run task: %w", err)
				}
				printResult(cmd.OutOrStdout(), args[0], res)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a task until the daemon restarts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := client.Delete(cmd.Context(), "/v1/tasks/"+url.PathEscape(args[0])); err != nil {
					return fmt.Errorf("remove task: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newSetEnabledCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: fmt.Sprintf("%s a task", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t task
			body := map[string]bool{"enabled": enabled}
			if err := client.Patch(cmd.Context(), "/v1/tasks/"+url.PathEscape(args[0]), body, &t); err != nil {
				return fmt.Errorf("%s task: %w", verb, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s enabled=%t\n", t.Name, t.Enabled)
			return nil
		},
	}
}

func printResult(out io.Writer, name string, res result) {
	fmt.Fprintf(out, "%s: %s", name, res.Outcome)
	if res.FinalState != "" {
		fmt.Fprintf(out, " (%s)", res.FinalState)
	}
	fmt.Fprintln(out)
	printSteps(out, res.Steps)
	if res.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", res.Error)
	}
}

func printSteps(out io.Writer, steps []step) {
	for _, s := range steps {
		fmt.Fprintf(out, "    - %s: %s (%dms)", s.Name, s.Outcome, s.DurationMS)
		if s.Error != "" {
			fmt.Fprintf(out, " %s", s.Error)
		}
		fmt.Fprintln(out)
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
