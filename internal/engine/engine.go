package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Config exposes the streak thresholds and retention window as named,
// overridable settings.
type Config struct {
	// WarnAfter is the last streak day still considered safe.
	WarnAfter int
	// DangerAfter is the last streak day still considered a warning.
	DangerAfter int
	// CloseoutDays is the mandatory close-out deadline in publication days.
	CloseoutDays int
	// RetentionDays bounds how many publication days of history are kept.
	RetentionDays int
}

// DefaultConfig mirrors Reg SHO Rule 203(b)(3): close-out after 13
// consecutive settlement days, 60 trading days of retained history.
func DefaultConfig() Config {
	return Config{
		WarnAfter:     7,
		DangerAfter:   10,
		CloseoutDays:  13,
		RetentionDays: 60,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WarnAfter <= 0 {
		c.WarnAfter = def.WarnAfter
	}
	if c.DangerAfter <= c.WarnAfter {
		c.DangerAfter = def.DangerAfter
	}
	if c.CloseoutDays <= c.DangerAfter {
		c.CloseoutDays = def.CloseoutDays
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = def.RetentionDays
	}
	return c
}

// Engine folds daily threshold-list snapshots into per-ticker streak state.
//
// Ingestion is serialized; readers always observe the last fully committed
// state via View, never a partially applied one. Each successful Ingest
// builds the next state as a copy and publishes it with a single atomic swap.
type Engine struct {
	mu      sync.Mutex
	current atomic.Pointer[State]
}

// New constructs an engine with empty state.
func New(cfg Config) *Engine {
	e := &Engine{}
	e.current.Store(emptyState(cfg.withDefaults()))
	return e
}

// View returns the last committed state. The returned value is immutable.
func (e *Engine) View() *State {
	return e.current.Load()
}

// Ingest folds one snapshot into the tracked state and reports the
// additions/removals delta. It either commits fully or fails leaving the
// previous state untouched.
func (e *Engine) Ingest(snap Snapshot) (Delta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current.Load()
	next, delta, err := cur.apply(snap)
	if err != nil {
		return Delta{}, err
	}

	e.current.Store(next)
	return delta, nil
}

// Rebuild replaces the tracked state with one folded from scratch out of the
// given snapshots, which must be in ascending date order. On any error the
// previous state is kept.
func (e *Engine) Rebuild(snaps []Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := emptyState(e.current.Load().cfg)
	for _, snap := range snaps {
		next, _, err := state.apply(snap)
		if err != nil {
			return fmt.Errorf("rebuild at %s: %w", dayKey(snap.Date), err)
		}
		state = next
	}

	e.current.Store(state)
	return nil
}

func validate(snap Snapshot) error {
	if snap.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrMalformed)
	}
	seen := make(map[string]struct{}, len(snap.Entries))
	for _, entry := range snap.Entries {
		if entry.Symbol == "" {
			return fmt.Errorf("%w: empty symbol", ErrMalformed)
		}
		if _, dup := seen[entry.Symbol]; dup {
			return fmt.Errorf("%w: duplicate symbol %s", ErrMalformed, entry.Symbol)
		}
		seen[entry.Symbol] = struct{}{}
	}
	return nil
}
