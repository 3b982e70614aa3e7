package cli

import (
	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var sourcesSummary bool

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Connect to every configured source and display health and prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sources(cmd.Context(), app.SourcesOptions{Summary: sourcesSummary})
	},
}

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesSummary, "summary", true, "Print the cross-source market summary")
}
