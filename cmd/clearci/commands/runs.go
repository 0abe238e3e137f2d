package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "runs <job>",
		Short: "Show recent runs of a job, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := buildClient()
			if err != nil {
				return err
			}

			execs, err := api.ListExecutions(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}

			if len(execs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs yet. Trigger one with 'clearci trigger "+args[0]+"'.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTATUS\tATTEMPT\tSTARTED\tDURATION\tEXIT\tNODE")
			for _, e := range execs {
				node := "-"
				if e.NodeID != nil && *e.NodeID != "" {
					node = *e.NodeID
				}
				exit := "-"
				if e.CompletedAt != nil {
					exit = fmt.Sprintf("%d", e.ExitCode)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					e.ID, e.Status, e.Attempt, formatTime(e.StartedAt),
					formatDuration(e.StartedAt, e.CompletedAt), exit, truncate(node, 30))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of runs to skip")

	return cmd
}
