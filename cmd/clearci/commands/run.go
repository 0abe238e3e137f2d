package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <run>",
		Short: "Detailed view of a single run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := buildClient()
			if err != nil {
				return err
			}

			exec, err := api.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("run %q: %w", args[0], err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run:        %s\n", exec.ID)
			fmt.Fprintf(w, "Job:        %s\n", exec.JobID)
			fmt.Fprintf(w, "Status:     %s\n", exec.Status)
			fmt.Fprintf(w, "Attempt:    %d\n", exec.Attempt)
			fmt.Fprintf(w, "Scheduled:  %s\n", exec.ScheduledAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Started:    %s\n", formatTime(exec.StartedAt))
			fmt.Fprintf(w, "Completed:  %s\n", formatTime(exec.CompletedAt))
			fmt.Fprintf(w, "Duration:   %s\n", formatDuration(exec.StartedAt, exec.CompletedAt))
			if exec.NodeID != nil && *exec.NodeID != "" {
				fmt.Fprintf(w, "Node:       %s\n", *exec.NodeID)
			}
			if exec.CompletedAt != nil {
				fmt.Fprintf(w, "Exit code:  %d\n", exec.ExitCode)
			}
			if exec.OutputURI != "" {
				fmt.Fprintf(w, "Log:        available ('clearci logs %s')\n", exec.ID)
			}
			if exec.Error != "" {
				fmt.Fprintf(w, "Error:      %s\n", exec.Error)
			}
			return nil
		},
	}
}
