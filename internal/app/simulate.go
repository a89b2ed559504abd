package app

import (
	"context"
	"errors"
	"time"

	"regsho-monitor/internal/alerting"
	"regsho-monitor/internal/engine"
)

// SimulateAlert 以给定的 symbol/streak 模拟一次告警流程，验证推送通道。
func (a *App) SimulateAlert(ctx context.Context, symbol string, streak int) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	cfg := a.engineConfig()
	remaining := cfg.CloseoutDays - streak
	if remaining < 0 {
		remaining = 0
	}

	note := alerting.Notification{
		Date:          engine.Day(time.Now().UTC()),
		Symbol:        symbol,
		Name:          "simulated security",
		Streak:        streak,
		Risk:          cfg.Classify(streak),
		DaysRemaining: remaining,
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "(simulated)",
	}
	return notifier.Notify(ctx, note)
}
