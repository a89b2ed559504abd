package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"regsho-monitor/internal/alerting"
	"regsho-monitor/internal/config"
	"regsho-monitor/internal/engine"
	"regsho-monitor/internal/fetcher"
	"regsho-monitor/internal/scheduler"
	"regsho-monitor/internal/service"
	"regsho-monitor/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() fetcher.Source {
	return fetcher.NewNasdaq(fetcher.NasdaqOptions{
		BaseURL:   a.Config.Source.BaseURL,
		Timeout:   a.Config.Source.RequestTimeout,
		UserAgent: a.Config.Source.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Source.RequestTimeout, a.Logger)
	}
	return nil
}

func (a *App) engineConfig() engine.Config {
	return engine.Config{
		WarnAfter:     a.Config.Risk.WarnAfter,
		DangerAfter:   a.Config.Risk.DangerAfter,
		CloseoutDays:  a.Config.Risk.CloseoutDays,
		RetentionDays: a.Config.Retention.TradingDays,
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Config.Retention.TradingDays)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// loadEngine opens the store and rebuilds engine state from the snapshot log
// for read-only commands.
func (a *App) loadEngine(ctx context.Context) (*engine.Engine, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	eng := engine.New(a.engineConfig())
	svc := service.New(a.Config, eng, a.newSource(), store, nil, a.Logger)
	if err := svc.Recover(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return eng, closeStore, nil
}

func (a *App) schedulerTimes() ([]scheduler.TimeOfDay, error) {
	times := make([]scheduler.TimeOfDay, 0, len(a.Config.Scheduler.Times))
	for _, raw := range a.Config.Scheduler.Times {
		tod, err := scheduler.ParseTimeOfDay(raw)
		if err != nil {
			return nil, err
		}
		times = append(times, tod)
	}
	return times, nil
}

// Run executes the long-running monitoring service: recover state from the
// log, then refresh at the scheduled times until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	eng := engine.New(a.engineConfig())
	svc := service.New(a.Config, eng, a.newSource(), store, a.newNotifier(), a.Logger)

	if err := svc.Recover(ctx); err != nil {
		return err
	}

	go func() {
		if runErr := svc.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			a.Logger.Error().Err(runErr).Msg("refresh worker stopped")
		}
	}()

	if a.Config.Scheduler.RefreshOnStart {
		if err := svc.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("initial refresh failed; prior state remains queryable")
		}
	}

	times, err := a.schedulerTimes()
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Options{Times: times, Location: a.Config.Location()}, a.Logger)

	a.Logger.Info().Strs("times", a.Config.Scheduler.Times).Str("timezone", a.Config.Scheduler.Timezone).Msg("starting monitoring service")
	err = sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		refreshErr := svc.Refresh(tickCtx)
		if errors.Is(refreshErr, service.ErrRefreshInProgress) {
			a.Logger.Warn().Msg("scheduled refresh skipped; another refresh in flight")
			return nil
		}
		return refreshErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// HistoryOptions configure the per-symbol history command.
type HistoryOptions struct {
	Symbol string
	Days   int
}

// ExportOptions hold parameters for exporting the current analysis.
type ExportOptions struct {
	CSVPath   string
	PNGPath   string
	ChartDays int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	DryRun bool
}
