package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <run>",
		Short: "Print the console log of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := buildClient()
			if err != nil {
				return err
			}

			// The run record tells us whether a log can exist yet; asking
			// first gives a better message than the server's bare 404.
			exec, err := api.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("run %q: %w", args[0], err)
			}
			if exec.OutputURI == "" {
				return fmt.Errorf("run %s has no console log yet (status %s)", exec.ID, exec.Status)
			}

			data, err := api.GetExecutionLog(cmd.Context(), exec.ID)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
