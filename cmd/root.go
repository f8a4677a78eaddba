package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd returns the root command for the leadcrawl CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "leadcrawl",
		Short:         "Map-based business lead crawler",
		Long:          "leadcrawl sweeps map search results for a keyword across one or more locations and exports scored business leads.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newScrapeCmd())
	return rootCmd
}
