package commands

import (
	"github.com/spf13/cobra"
)

// Root returns the root cobra command with all subcommands attached.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clearci",
		Short: "Manage CI jobs on a clearci server",
		Long: "clearci talks to a clearci API server to manage scheduled build jobs,\n" +
			"trigger runs, and fetch console logs.",
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "API server base URL (overrides config file)")
	cmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "API key for authentication")
	cmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token for authentication")
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ~/.config/clearci/config.toml)")

	cmd.AddCommand(initCmd())
	cmd.AddCommand(applyCmd())
	cmd.AddCommand(listCmd())
	cmd.AddCommand(getCmd())
	cmd.AddCommand(deleteCmd())
	cmd.AddCommand(pauseCmd())
	cmd.AddCommand(resumeCmd())
	cmd.AddCommand(triggerCmd())
	cmd.AddCommand(runsCmd())
	cmd.AddCommand(runCmd())
	cmd.AddCommand(logsCmd())
	cmd.AddCommand(cancelCmd())
	cmd.AddCommand(nodesCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}
