package cli

import (
	"github.com/spf13/cobra"

	"regsho-monitor/internal/app"
)

var (
	exportCSVPath   string
	exportPNGPath   string
	exportChartDays int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the current table as CSV and/or a PNG trend chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			CSVPath:   exportCSVPath,
			PNGPath:   exportPNGPath,
			ChartDays: exportChartDays,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV table")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().IntVar(&exportChartDays, "chart-days", 0, "Days to chart (defaults to config)")
}
