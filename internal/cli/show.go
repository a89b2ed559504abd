package cli

import (
	"github.com/spf13/cobra"

	"regsho-monitor/internal/app"
)

var (
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current threshold-list analysis table",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Limit: showLimit,
		}
		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "Limit table rows (0 shows all)")
}
