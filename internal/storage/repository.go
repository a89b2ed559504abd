package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"regsho-monitor/internal/engine"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrOutOfOrder indicates an append dated before the newest stored snapshot.
	ErrOutOfOrder = errors.New("storage: snapshot out of order")
	// ErrDuplicate indicates an append for a date that is already stored.
	ErrDuplicate = errors.New("storage: snapshot already stored for date")
	// ErrNotFound indicates the requested snapshot does not exist.
	ErrNotFound = errors.New("storage: snapshot not found")
)

const (
	latestSnapshotDateSQL = `SELECT snapshot_date FROM snapshots ORDER BY snapshot_date DESC LIMIT 1;`

	insertSnapshotSQL = `INSERT INTO snapshots (snapshot_date, entries) VALUES ($1, $2);`

	replaceSnapshotSQL = `UPDATE snapshots SET entries = $2 WHERE snapshot_date = $1;`

	pruneSnapshotsSQL = `DELETE FROM snapshots
    WHERE snapshot_date NOT IN (
        SELECT snapshot_date FROM snapshots ORDER BY snapshot_date DESC LIMIT $1
    );`

	listSnapshotsSinceSQL = `SELECT snapshot_date, entries
    FROM snapshots
    WHERE snapshot_date >= $1
    ORDER BY snapshot_date;`

	latestSnapshotSQL = `SELECT snapshot_date, entries
    FROM snapshots
    ORDER BY snapshot_date DESC
    LIMIT 1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM snapshots;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations over the durable daily snapshot log.
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, snap engine.Snapshot) error
	ReplaceSnapshot(ctx context.Context, snap engine.Snapshot) error
	ListSnapshotsSince(ctx context.Context, since time.Time) ([]engine.Snapshot, error)
	LatestSnapshot(ctx context.Context) (engine.Snapshot, error)
	CountSnapshots(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists the bounded snapshot log in PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	retention int
}

// NewStore wires a pgx pool into a Store retaining the newest retention
// snapshots.
func NewStore(pool *pgxpool.Pool, retention int) *Store {
	if retention <= 0 {
		retention = 60
	}
	return &Store{pool: pool, retention: retention}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendSnapshot stores a new daily snapshot. The insert and the retention
// prune run in one transaction, so a crash mid-write leaves no partial
// snapshot visible. Appends must be strictly newer than the stored log;
// corrections go through ReplaceSnapshot.
func (s *Store) AppendSnapshot(ctx context.Context, snap engine.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(toRecords(snap.Entries))
	if err != nil {
		return fmt.Errorf("marshal snapshot entries: %w", err)
	}

	date := engine.Day(snap.Date)
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var last time.Time
	switch scanErr := tx.QueryRow(ctx, latestSnapshotDateSQL).Scan(&last); {
	case scanErr == nil:
		last = engine.Day(last)
		if date.Equal(last) {
			return fmt.Errorf("%w: %s", ErrDuplicate, date.Format("2006-01-02"))
		}
		if date.Before(last) {
			return fmt.Errorf("%w: %s is before stored %s", ErrOutOfOrder, date.Format("2006-01-02"), last.Format("2006-01-02"))
		}
	case errors.Is(scanErr, pgx.ErrNoRows):
		// empty log, first append
	default:
		return fmt.Errorf("read latest snapshot date: %w", scanErr)
	}

	if _, execErr := tx.Exec(ctx, insertSnapshotSQL, date, payload); execErr != nil {
		return fmt.Errorf("insert snapshot: %w", execErr)
	}
	if _, execErr := tx.Exec(ctx, pruneSnapshotsSQL, s.retention); execErr != nil {
		return fmt.Errorf("prune snapshots: %w", execErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return fmt.Errorf("commit append: %w", commitErr)
	}
	return nil
}

// ReplaceSnapshot overwrites the entries stored for an existing date. This is
// the only supported correction path; AppendSnapshot never overwrites.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap engine.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(toRecords(snap.Entries))
	if err != nil {
		return fmt.Errorf("marshal snapshot entries: %w", err)
	}

	tag, execErr := pool.Exec(ctx, replaceSnapshotSQL, engine.Day(snap.Date), payload)
	if execErr != nil {
		return fmt.Errorf("replace snapshot: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, engine.Day(snap.Date).Format("2006-01-02"))
	}
	return nil
}

// ListSnapshotsSince lists stored snapshots with date >= since, oldest first.
func (s *Store) ListSnapshotsSince(ctx context.Context, since time.Time) ([]engine.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsSinceSQL, engine.Day(since))
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots since: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]engine.Snapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// LatestSnapshot returns the newest stored snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (engine.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return engine.Snapshot{}, err
	}

	rows, queryErr := pool.Query(ctx, latestSnapshotSQL)
	if queryErr != nil {
		return engine.Snapshot{}, fmt.Errorf("latest snapshot: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return engine.Snapshot{}, rows.Err()
		}
		return engine.Snapshot{}, fmt.Errorf("%w: log is empty", ErrNotFound)
	}
	return scanSnapshot(rows)
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// unlock is best effort; the session drop releases the lock anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func scanSnapshot(rows pgx.Rows) (engine.Snapshot, error) {
	var (
		date    time.Time
		payload []byte
	)
	if err := rows.Scan(&date, &payload); err != nil {
		return engine.Snapshot{}, err
	}

	var records []entryRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return engine.Snapshot{}, fmt.Errorf("unmarshal snapshot entries: %w", err)
	}
	return fromRecords(date, records), nil
}

var _ SnapshotStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
