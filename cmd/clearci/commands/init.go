package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file and check the server connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configFilePath()
			if err != nil {
				return err
			}

			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					return fmt.Errorf("creating config directory: %w", err)
				}
				if err := os.WriteFile(path, []byte(templateConfig), 0600); err != nil {
					return fmt.Errorf("writing config template: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  wrote config template to %s\n", path)
				fmt.Fprintf(cmd.OutOrStdout(), "\nEdit %s with your server address, then run 'clearci init' again.\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  config: %s\n", path)

			api, err := buildClient()
			if err != nil {
				return err
			}
			if err := api.Health(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  server: FAILED (%v)\n", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  server: OK\n")
			return nil
		},
	}
}
