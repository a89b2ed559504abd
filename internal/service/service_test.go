package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"regsho-monitor/internal/alerting"
	"regsho-monitor/internal/config"
	"regsho-monitor/internal/engine"
	"regsho-monitor/internal/fetcher"
	"regsho-monitor/internal/storage"
)

type memStore struct {
	mu    sync.Mutex
	snaps []engine.Snapshot
}

func (m *memStore) AppendSnapshot(_ context.Context, snap engine.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	date := engine.Day(snap.Date)
	if len(m.snaps) > 0 {
		last := m.snaps[len(m.snaps)-1].Date
		if date.Equal(last) {
			return storage.ErrDuplicate
		}
		if date.Before(last) {
			return storage.ErrOutOfOrder
		}
	}
	m.snaps = append(m.snaps, engine.Snapshot{Date: date, Entries: snap.Entries})
	return nil
}

func (m *memStore) ReplaceSnapshot(_ context.Context, snap engine.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.snaps {
		if m.snaps[i].Date.Equal(engine.Day(snap.Date)) {
			m.snaps[i].Entries = snap.Entries
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) ListSnapshotsSince(_ context.Context, since time.Time) ([]engine.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		if !s.Date.Before(engine.Day(since)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) LatestSnapshot(_ context.Context) (engine.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return engine.Snapshot{}, storage.ErrNotFound
	}
	return m.snaps[len(m.snaps)-1], nil
}

func (m *memStore) CountSnapshots(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.snaps)), nil
}

var _ storage.SnapshotStore = (*memStore)(nil)

// lockedStore adds an in-process advisory lock on top of memStore.
type lockedStore struct {
	memStore
	lockMu sync.Mutex
	held   bool
}

func (l *lockedStore) TryAdvisoryLock(_ context.Context, _ int64) (func(), bool, error) {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	unlock := func() {
		l.lockMu.Lock()
		l.held = false
		l.lockMu.Unlock()
	}
	return unlock, true, nil
}

func (l *lockedStore) lockHeld() bool {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	return l.held
}

var _ storage.AdvisoryLocker = (*lockedStore)(nil)

type fakeSource struct {
	mu      sync.Mutex
	byDate  map[string]engine.Snapshot
	failOn  map[string]error
	blockCh chan struct{}
	started chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context, date time.Time) (engine.Snapshot, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return engine.Snapshot{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := engine.Day(date).Format("2006-01-02")
	if err, ok := f.failOn[key]; ok {
		return engine.Snapshot{}, err
	}
	if snap, ok := f.byDate[key]; ok {
		return snap, nil
	}
	return engine.Snapshot{}, fmt.Errorf("%w: %s", fetcher.ErrNotPublished, key)
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes)
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Source:    config.SourceConfig{LookbackCalDays: 10},
		Alerting:  config.AlertingConfig{Enabled: true, MinRisk: "danger", Channels: []string{"telegram"}},
	}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func listSnap(date string, syms ...string) engine.Snapshot {
	entries := make([]engine.Entry, 0, len(syms))
	for _, sym := range syms {
		entries = append(entries, engine.Entry{Symbol: sym, Name: sym + " Corp", Market: "G", Rule3210: "N"})
	}
	return engine.Snapshot{Date: day(date), Entries: entries}
}

func sourceWith(snaps ...engine.Snapshot) *fakeSource {
	f := &fakeSource{byDate: make(map[string]engine.Snapshot)}
	for _, s := range snaps {
		f.byDate[s.Date.Format("2006-01-02")] = s
	}
	return f
}

func newTestService(cfg *config.Config, source fetcher.Source, store storage.SnapshotStore, notifier alerting.Notifier, today string) (*Service, *engine.Engine) {
	eng := engine.New(engine.Config{})
	svc := New(cfg, eng, source, store, notifier, zerolog.Nop())
	svc.now = func() time.Time { return day(today) }
	return svc, eng
}

func startWorker(t *testing.T, svc *Service) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = svc.Run(ctx)
	}()
	return ctx
}

func TestRefreshIngestsMissingDays(t *testing.T) {
	store := &memStore{}
	source := sourceWith(
		listSnap("2026-01-05", "AAA"),
		listSnap("2026-01-06", "AAA", "BBB"),
		listSnap("2026-01-07", "BBB"),
		listSnap("2026-01-08", "BBB"),
		listSnap("2026-01-09", "BBB"),
	)
	svc, eng := newTestService(testConfig(), source, store, nil, "2026-01-09")
	ctx := startWorker(t, svc)

	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if count, _ := store.CountSnapshots(ctx); count != 5 {
		t.Fatalf("5 published days should be stored, got %d", count)
	}

	view := eng.View()
	ts, err := view.Ticker("BBB")
	if err != nil || ts.Streak != 4 {
		t.Fatalf("BBB should have streak 4 after refresh: %+v %v", ts, err)
	}
	if _, err := view.Ticker("AAA"); err != nil {
		t.Fatalf("AAA history should be retained after removal: %v", err)
	}
}

func TestRefreshImmediatelyAfterWorkerStart(t *testing.T) {
	// a request placed before the worker goroutine is scheduled must still be
	// accepted, not reported as a conflict
	for i := 0; i < 200; i++ {
		svc, _ := newTestService(testConfig(), sourceWith(), &memStore{}, nil, "2026-01-09")
		ctx, cancel := context.WithCancel(context.Background())
		go func() { _ = svc.Run(ctx) }()

		err := svc.Refresh(ctx)
		cancel()
		if err != nil {
			t.Fatalf("iteration %d: refresh right after start should succeed, got %v", i, err)
		}
	}
}

func TestRefreshRejectedWhileInFlight(t *testing.T) {
	store := &memStore{}
	source := sourceWith(listSnap("2026-01-09", "AAA"))
	source.blockCh = make(chan struct{})
	source.started = make(chan struct{}, 1)

	svc, _ := newTestService(testConfig(), source, store, nil, "2026-01-09")
	ctx := startWorker(t, svc)

	firstDone := make(chan error, 1)
	go func() { firstDone <- svc.Refresh(ctx) }()

	select {
	case <-source.started:
	case <-time.After(time.Second):
		t.Fatal("first refresh never reached the source")
	}

	if err := svc.Refresh(ctx); !errors.Is(err, ErrRefreshInProgress) {
		t.Fatalf("并发 refresh 应返回 ErrRefreshInProgress, 实际 %v", err)
	}

	close(source.blockCh)
	if err := <-firstDone; err != nil {
		t.Fatalf("first refresh should finish cleanly: %v", err)
	}
}

func TestFetchFailureLeavesStateUntouched(t *testing.T) {
	store := &memStore{}
	source := sourceWith(listSnap("2026-01-08", "AAA"))
	svc, eng := newTestService(testConfig(), source, store, nil, "2026-01-08")
	ctx := startWorker(t, svc)

	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	before := eng.View()
	countBefore, _ := store.CountSnapshots(ctx)

	source.mu.Lock()
	source.failOn = map[string]error{"2026-01-09": errors.New("connection reset")}
	source.mu.Unlock()
	svc.now = func() time.Time { return day("2026-01-09") }

	if err := svc.Refresh(ctx); err == nil {
		t.Fatal("fetch failure must surface as a refresh error")
	}

	if eng.View() != before {
		t.Fatal("failed refresh must leave the committed state untouched")
	}
	if countAfter, _ := store.CountSnapshots(ctx); countAfter != countBefore {
		t.Fatalf("failed refresh must not grow the log: %d -> %d", countBefore, countAfter)
	}
}

func TestRecoverRebuildsWithoutFetching(t *testing.T) {
	store := &memStore{}
	for _, s := range []engine.Snapshot{
		listSnap("2026-01-05", "AAA"),
		listSnap("2026-01-06", "AAA"),
	} {
		if err := store.AppendSnapshot(context.Background(), s); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	source := sourceWith() // any fetch would report not published
	svc, eng := newTestService(testConfig(), source, store, nil, "2026-01-06")

	if err := svc.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	ts, err := eng.View().Ticker("AAA")
	if err != nil || ts.Streak != 2 {
		t.Fatalf("recovered state should show AAA streak 2: %+v %v", ts, err)
	}
}

func TestAlertsOnCrossingIntoDanger(t *testing.T) {
	store := &memStore{}
	base := day("2025-10-20")
	for i := 0; i < 10; i++ {
		s := listSnap(base.AddDate(0, 0, i).Format("2006-01-02"), "CCC")
		if err := store.AppendSnapshot(context.Background(), s); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	day11 := base.AddDate(0, 0, 10).Format("2006-01-02")
	source := sourceWith(listSnap(day11, "CCC"))
	notifier := &fakeNotifier{}
	svc, _ := newTestService(testConfig(), source, store, notifier, day11)
	if err := svc.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	ctx := startWorker(t, svc)

	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if notifier.count() != 1 {
		t.Fatalf("CCC crossed into danger, expected exactly one alert, got %d", notifier.count())
	}
	note := notifier.notes[0]
	if note.Symbol != "CCC" || note.Risk != engine.RiskDanger || note.Streak != 11 {
		t.Fatalf("unexpected notification: %+v", note)
	}

	// next day stays in danger: no repeat alert
	day12 := base.AddDate(0, 0, 11).Format("2006-01-02")
	source.mu.Lock()
	source.byDate[day12] = listSnap(day12, "CCC")
	source.mu.Unlock()
	svc.now = func() time.Time { return day(day12) }

	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("ticker already in danger must not re-alert, got %d notes", notifier.count())
	}
}

func TestCandidateDaysSkipWeekendsAndStoredHead(t *testing.T) {
	store := &memStore{}
	if err := store.AppendSnapshot(context.Background(), listSnap("2026-01-08", "AAA")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	svc, _ := newTestService(testConfig(), sourceWith(), store, nil, "2026-01-12")
	days, err := svc.candidateDays(context.Background())
	if err != nil {
		t.Fatalf("candidate days: %v", err)
	}

	want := []string{"2026-01-09", "2026-01-12"}
	if len(days) != len(want) {
		t.Fatalf("candidates should skip weekend days: %v", days)
	}
	for i, d := range days {
		if d.Format("2006-01-02") != want[i] {
			t.Fatalf("candidate %d should be %s, got %s", i, want[i], d.Format("2006-01-02"))
		}
	}
}

func TestBackfillDryRunDoesNotWrite(t *testing.T) {
	store := &memStore{}
	source := sourceWith(listSnap("2026-01-08", "AAA"), listSnap("2026-01-09", "AAA"))
	svc, _ := newTestService(testConfig(), source, store, nil, "2026-01-09")

	fetched, err := svc.Backfill(context.Background(), true)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if fetched != 2 {
		t.Fatalf("dry-run should still count fetched days, got %d", fetched)
	}
	if count, _ := store.CountSnapshots(context.Background()); count != 0 {
		t.Fatalf("dry-run 不应写入日志, 实际 %d", count)
	}
}

func TestBackfillHonorsAdvisoryLock(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 42

	store := &lockedStore{held: true}
	source := sourceWith(listSnap("2026-01-09", "AAA"))
	svc, _ := newTestService(cfg, source, store, nil, "2026-01-09")

	if _, err := svc.Backfill(context.Background(), false); !errors.Is(err, ErrRefreshInProgress) {
		t.Fatalf("backfill with the lock held elsewhere should be rejected, got %v", err)
	}
	if count, _ := store.CountSnapshots(context.Background()); count != 0 {
		t.Fatalf("rejected backfill must not write, got %d snapshots", count)
	}

	store.lockMu.Lock()
	store.held = false
	store.lockMu.Unlock()

	fetched, err := svc.Backfill(context.Background(), false)
	if err != nil || fetched != 1 {
		t.Fatalf("backfill after lock release: fetched=%d err=%v", fetched, err)
	}
	if store.lockHeld() {
		t.Fatal("backfill must release the advisory lock when done")
	}
}
