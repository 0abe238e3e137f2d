package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <job>",
		Short: "Queue a run of a job right now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := buildClient()
			if err != nil {
				return err
			}

			execID, err := api.TriggerJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "run %s queued\n", execID)
			fmt.Fprintf(w, "follow it with 'clearci logs %s' once it finishes\n", execID)
			return nil
		},
	}
}
