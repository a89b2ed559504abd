package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulateStreak int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条风险告警并推送，验证通道配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol 必须提供")
		}
		if simulateStreak <= 0 {
			return errors.New("--streak 必须大于 0")
		}
		return getApp().SimulateAlert(cmd.Context(), strings.ToUpper(simulateSymbol), simulateStreak)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "模拟的证券代码")
	simulateCmd.Flags().IntVar(&simulateStreak, "streak", 0, "模拟的连续等级日数")
}
