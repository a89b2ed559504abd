package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"regsho-monitor/internal/alerting"
	"regsho-monitor/internal/config"
	"regsho-monitor/internal/engine"
	"regsho-monitor/internal/fetcher"
	"regsho-monitor/internal/storage"
)

// ErrRefreshInProgress indicates a refresh request arrived while another
// ingestion was in flight. Retryable, never fatal.
var ErrRefreshInProgress = errors.New("service: refresh already in progress")

type refreshRequest struct {
	reply chan error
}

// Service owns the ingestion pipeline: it fetches missing publication days,
// appends them to the durable log, rebuilds the streak engine from the log,
// and dispatches risk alerts. All ingestion runs on a single worker
// goroutine, so at most one refresh is in flight at a time; queries against
// the engine never wait on a fetch.
type Service struct {
	engine   *engine.Engine
	source   fetcher.Source
	store    storage.SnapshotStore
	notifier alerting.Notifier
	logger   zerolog.Logger

	lookbackCal int
	fetchPause  time.Duration
	location    *time.Location
	minRisk     engine.Risk
	channels    []string
	alertsOn    bool
	locker      storage.AdvisoryLocker
	lockKey     int64

	requests chan refreshRequest
	inFlight atomic.Bool
	now      func() time.Time
}

// New constructs the monitoring service.
func New(cfg *config.Config, eng *engine.Engine, source fetcher.Source, store storage.SnapshotStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	minRisk := engine.Risk(cfg.Alerting.MinRisk)
	if minRisk == "" {
		minRisk = engine.RiskDanger
	}

	return &Service{
		engine:      eng,
		source:      source,
		store:       store,
		notifier:    notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		lookbackCal: cfg.Source.LookbackCalDays,
		fetchPause:  cfg.Source.FetchPause,
		location:    cfg.Location(),
		minRisk:     minRisk,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled && notifier != nil,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		requests:    make(chan refreshRequest, 1),
		now:         time.Now,
	}
}

// Run processes refresh requests serially until ctx is cancelled. It is the
// only goroutine that mutates engine state.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.requests:
			err := s.refresh(ctx)
			s.inFlight.Store(false)
			req.reply <- err
		}
	}
}

// Refresh requests an ingestion run and waits for its result. If another
// refresh is already in flight the request is rejected with
// ErrRefreshInProgress rather than queued behind it. The in-flight flag, not
// worker readiness, decides rejection, so a request placed right after Run
// starts is still accepted.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}

	// the flag guarantees at most one outstanding request, so the buffered
	// send cannot block
	req := refreshRequest{reply: make(chan error, 1)}
	s.requests <- req

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover rebuilds engine state from the durable log without refetching.
// Called once at startup so queries work before the first refresh.
func (s *Service) Recover(ctx context.Context) error {
	snaps, err := s.store.ListSnapshotsSince(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("load snapshot log: %w", err)
	}
	if err := s.engine.Rebuild(snaps); err != nil {
		return err
	}
	s.logger.Info().Int("days", len(snaps)).Msg("engine state recovered from log")
	return nil
}

// refresh performs one full ingestion run. Any failure leaves the previously
// committed engine state queryable.
func (s *Service) refresh(ctx context.Context) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip refresh because advisory lock held elsewhere")
		return ErrRefreshInProgress
	}
	if unlock != nil {
		defer unlock()
	}

	before := s.engine.View()

	fetched, err := s.fetchMissing(ctx, false)
	if err != nil {
		return err
	}

	if err := s.Recover(ctx); err != nil {
		return err
	}

	after := s.engine.View()
	sum := after.Summary()
	s.logger.Info().
		Int("fetched", fetched).
		Int("total", sum.Total).
		Int("danger", sum.Danger).
		Int("breach", sum.Breach).
		Int("warning", sum.Warning).
		Msg("refresh complete")

	s.dispatchAlerts(ctx, before, after)
	return nil
}

// fetchMissing walks candidate publication days oldest first and appends any
// the log does not have yet. dryRun skips the append.
func (s *Service) fetchMissing(ctx context.Context, dryRun bool) (int, error) {
	candidates, err := s.candidateDays(ctx)
	if err != nil {
		return 0, err
	}

	fetched := 0
	for i, day := range candidates {
		if i > 0 && s.fetchPause > 0 {
			// 轻微限速，避免对上游造成压力
			select {
			case <-ctx.Done():
				return fetched, ctx.Err()
			case <-time.After(s.fetchPause):
			}
		}

		snap, fetchErr := s.source.Fetch(ctx, day)
		if errors.Is(fetchErr, fetcher.ErrNotPublished) {
			continue
		}
		if fetchErr != nil {
			return fetched, fmt.Errorf("fetch %s: %w", day.Format("2006-01-02"), fetchErr)
		}

		if dryRun {
			fetched++
			continue
		}

		if appendErr := s.store.AppendSnapshot(ctx, snap); appendErr != nil {
			return fetched, fmt.Errorf("append %s: %w", day.Format("2006-01-02"), appendErr)
		}
		fetched++
		s.logger.Info().Str("date", day.Format("2006-01-02")).Int("entries", len(snap.Entries)).Msg("snapshot stored")
	}
	return fetched, nil
}

// Backfill fetches missing publication days into the log without rebuilding
// engine state or dispatching alerts. It takes the same advisory lock as a
// refresh, so only one process writes to the log at a time. Returns how many
// days were fetched.
func (s *Service) Backfill(ctx context.Context, dryRun bool) (int, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	if !proceed {
		return 0, ErrRefreshInProgress
	}
	if unlock != nil {
		defer unlock()
	}
	return s.fetchMissing(ctx, dryRun)
}

// candidateDays lists weekdays from just after the newest stored snapshot up
// to today, oldest first, bounded by the calendar lookback. The log is
// append-only in date order, so days at or before the stored head are never
// candidates.
func (s *Service) candidateDays(ctx context.Context) ([]time.Time, error) {
	today := engine.Day(s.now().In(s.location))
	floor := today.AddDate(0, 0, -s.lookbackCal)

	latest, err := s.store.LatestSnapshot(ctx)
	switch {
	case err == nil:
		if next := latest.Date.AddDate(0, 0, 1); next.After(floor) {
			floor = next
		}
	case errors.Is(err, storage.ErrNotFound):
		// empty log, keep the full lookback
	default:
		return nil, fmt.Errorf("read latest snapshot: %w", err)
	}

	var days []time.Time
	for day := floor; !day.After(today); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, day)
	}
	return days, nil
}

// dispatchAlerts notifies for tickers that crossed into the configured risk
// band during this refresh.
func (s *Service) dispatchAlerts(ctx context.Context, before, after *engine.State) {
	if !s.alertsOn {
		return
	}

	for _, row := range after.Table() {
		if !row.Risk.AtLeast(s.minRisk) {
			continue
		}
		if prev, err := before.Ticker(row.Symbol); err == nil {
			if before.Config().Classify(prev.Streak).AtLeast(s.minRisk) {
				continue // already alerted in an earlier refresh
			}
		}

		note := alerting.Notification{
			Date:          row.LastSeen,
			Symbol:        row.Symbol,
			Name:          row.Name,
			MarketLabel:   row.MarketLabel,
			Streak:        row.Streak,
			Risk:          row.Risk,
			DaysRemaining: row.DaysRemaining,
			Channels:      s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("symbol", row.Symbol).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
