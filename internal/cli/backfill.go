package cli

import (
	"github.com/spf13/cobra"

	"regsho-monitor/internal/app"
)

var (
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch missing historical threshold files into the snapshot log",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BackfillOptions{
			DryRun: backfillDryRun,
		}
		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch without writing to storage")
}
