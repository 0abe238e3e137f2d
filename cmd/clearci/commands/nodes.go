package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func nodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "Show live executor nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := buildClient()
			if err != nil {
				return err
			}

			nodes, err := api.ListNodes(cmd.Context())
			if err != nil {
				return err
			}

			if len(nodes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No executors registered. Builds will queue until one starts.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHOSTNAME\tCPUS\tMEMORY\tVERSION")
			for _, n := range nodes {
				version := n.Meta.Version
				if version == "" {
					version = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d MB\t%s\n",
					n.ID, n.Meta.Hostname, n.Meta.CPUs, n.Meta.MemoryMB, version)
			}
			w.Flush()
			return nil
		},
	}
}
