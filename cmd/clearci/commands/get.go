package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job>",
		Short: "Detailed view of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := buildClient()
			if err != nil {
				return err
			}

			job, err := api.GetJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("job %q: %w", args[0], err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Name:       %s\n", job.Name)
			fmt.Fprintf(w, "ID:         %s\n", job.ID)
			fmt.Fprintf(w, "Status:     %s\n", job.Status)
			fmt.Fprintf(w, "Schedule:   %s\n", job.Schedule)
			fmt.Fprintf(w, "Command:    %s\n", job.Command)
			if job.SCM.ViewTag != "" {
				fmt.Fprintf(w, "View:       %s\n", job.SCM.ViewTag)
			}
			if job.SCM.ConfigSpec != "" {
				fmt.Fprintf(w, "ConfigSpec: %s\n", indentBlock(job.SCM.ConfigSpec, "            "))
			}
			if job.RetryPolicy.MaxRetries > 0 {
				fmt.Fprintf(w, "Retries:    %d (%s)\n", job.RetryPolicy.MaxRetries, job.RetryPolicy.BackoffStrategy)
			}
			if job.Limits.Timeout != "" {
				fmt.Fprintf(w, "Timeout:    %s\n", job.Limits.Timeout)
			}
			fmt.Fprintf(w, "Next run:   %s\n", formatTime(job.NextRunAt))
			fmt.Fprintf(w, "Created:    %s\n", job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Updated:    %s\n", job.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

			return nil
		},
	}
}

// indentBlock keeps multi-line config specs aligned with their field label.
func indentBlock(s, pad string) string {
	s = strings.TrimRight(s, "\n")
	return strings.ReplaceAll(s, "\n", "\n"+pad)
}
