package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the earliest upcoming fire time",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Next *string `json:"next_fire_time"`
			}
			if err := client.Get(cmd.Context(), "/v1/schedule/next", &res); err != nil {
				return fmt.Errorf("next fire time: %w", err)
			}
			if res.Next == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing scheduled.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), *res.Next)
			return nil
		},
	}
}

func newPreviewCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "preview <trigger>",
		Short: "Preview fire times of a trigger such as daily@05:00 or weekly@monday@07:05",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res preview
			body := map[string]any{"trigger": args[0], "count": count}
			if err := client.Post(cmd.Context(), "/v1/triggers/preview", body, &res); err != nil {
				return fmt.Errorf("preview trigger: %w", err)
			}
			if !res.Valid {
				return fmt.Errorf("invalid trigger: %s", res.Message)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Description)
			for i, t := range res.NextTimes {
				fmt.Fprintf(out, "%d. %s\n", i+1, t)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 5, "Number of fire times (1-10)")
	return cmd
}

func newProcessesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "processes <name>",
		Short: "List running processes with an executable name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var procs []processInfo
			if err := client.Get(cmd.Context(), "/v1/processes?name="+url.QueryEscape(args[0]), &procs); err != nil {
				return fmt.Errorf("list processes: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(procs) == 0 {
				fmt.Fprintf(out, "%s is not running.\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "%-8s  %-20s  %s\n", "PID", "NAME", "PATH")
			for _, p := range procs {
				fmt.Fprintf(out, "%-8d  %-20s  %s\n", p.PID, p.Name, p.Path)
			}
			return nil
		},
	}
}
