package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Overall health of the clearci cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := buildClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			if err := api.Health(ctx); err != nil {
				fmt.Fprintf(w, "Server:    DEGRADED (%v)\n", err)
			} else {
				fmt.Fprintf(w, "Server:    OK\n")
			}

			if leader, err := api.Leader(ctx); err != nil {
				fmt.Fprintf(w, "Scheduler: no leader (%v)\n", err)
			} else {
				fmt.Fprintf(w, "Scheduler: %s\n", leader)
			}

			nodes, err := api.ListNodes(ctx)
			if err != nil {
				fmt.Fprintf(w, "Executors: unknown (%v)\n", err)
				return nil
			}
			fmt.Fprintf(w, "Executors: %d\n", len(nodes))
			return nil
		},
	}
}
