package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"regsho-monitor/internal/app"
)

var (
	historyDays int
)

var historyCmd = &cobra.Command{
	Use:   "history SYMBOL",
	Short: "Display per-day presence flags for one symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}

		opts := app.HistoryOptions{
			Symbol: strings.ToUpper(args[0]),
			Days:   historyDays,
		}
		return getApp().History(cmd.Context(), opts)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyDays, "days", 30, "Number of publication days to display")
}
