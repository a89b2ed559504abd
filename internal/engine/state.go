package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// State is an immutable view of the tracked streak state after one or more
// ingestions. All query methods are read-only and consistent with each other.
type State struct {
	cfg     Config
	dates   []time.Time
	tickers map[string]*TickerState
	deltas  map[string]Delta
}

func emptyState(cfg Config) *State {
	return &State{
		cfg:     cfg,
		tickers: make(map[string]*TickerState),
		deltas:  make(map[string]Delta),
	}
}

// LastDate reports the newest ingested publication day, if any.
func (s *State) LastDate() (time.Time, bool) {
	if len(s.dates) == 0 {
		return time.Time{}, false
	}
	return s.dates[len(s.dates)-1], true
}

// Days reports how many publication days are currently retained.
func (s *State) Days() int {
	return len(s.dates)
}

// apply folds one snapshot into a copy of s and returns the copy together
// with the resulting delta. s itself is never mutated.
func (s *State) apply(snap Snapshot) (*State, Delta, error) {
	if err := validate(snap); err != nil {
		return nil, Delta{}, err
	}

	date := Day(snap.Date)
	last, haveLast := s.LastDate()
	if haveLast && !date.After(last) {
		return nil, Delta{}, fmt.Errorf("%w: %s is not after %s", ErrOutOfOrder, dayKey(date), dayKey(last))
	}

	next := s.clone()

	present := make(map[string]struct{}, len(snap.Entries))
	var added []string
	for _, entry := range snap.Entries {
		present[entry.Symbol] = struct{}{}

		ts := next.tickers[entry.Symbol]
		onListYesterday := ts != nil && haveLast && ts.Streak > 0 && ts.LastSeen.Equal(last)
		if ts == nil {
			ts = &TickerState{Symbol: entry.Symbol}
			next.tickers[entry.Symbol] = ts
		}

		if onListYesterday {
			ts.Streak++
		} else {
			ts.Streak = 1
			ts.FirstSeen = date
			added = append(added, entry.Symbol)
		}

		ts.Name = entry.Name
		ts.Market = entry.Market
		ts.Rule3210 = entry.Rule3210
		ts.LastSeen = date
		ts.History = append(ts.History, Presence{Date: date, Present: true})
	}

	var removed []RemovedTicker
	for sym, ts := range next.tickers {
		if _, ok := present[sym]; ok {
			continue
		}
		if haveLast && ts.Streak > 0 && ts.LastSeen.Equal(last) {
			removed = append(removed, RemovedTicker{
				Symbol:          sym,
				Name:            ts.Name,
				Market:          ts.Market,
				Rule3210:        ts.Rule3210,
				StreakAtRemoval: ts.Streak,
			})
		}
		ts.Streak = 0
		ts.History = append(ts.History, Presence{Date: date, Present: false})
	}

	next.dates = append(next.dates, date)
	next.evict()

	sort.Strings(added)
	sort.Slice(removed, func(i, j int) bool { return removed[i].Symbol < removed[j].Symbol })

	delta := Delta{Date: date, Added: added, Removed: removed}
	next.deltas[dayKey(date)] = delta
	return next, delta, nil
}

// evict drops publication days beyond the retention window, together with
// tickers whose last appearance fell out of it and the history flags and
// deltas of evicted days.
func (s *State) evict() {
	if len(s.dates) <= s.cfg.RetentionDays {
		return
	}

	cut := len(s.dates) - s.cfg.RetentionDays
	for _, old := range s.dates[:cut] {
		delete(s.deltas, dayKey(old))
	}
	s.dates = append([]time.Time(nil), s.dates[cut:]...)
	oldest := s.dates[0]

	for sym, ts := range s.tickers {
		if ts.LastSeen.Before(oldest) {
			delete(s.tickers, sym)
			continue
		}
		trim := 0
		for trim < len(ts.History) && ts.History[trim].Date.Before(oldest) {
			trim++
		}
		if trim > 0 {
			ts.History = append([]Presence(nil), ts.History[trim:]...)
		}
	}
}

func (s *State) clone() *State {
	next := &State{
		cfg:     s.cfg,
		dates:   append([]time.Time(nil), s.dates...),
		tickers: make(map[string]*TickerState, len(s.tickers)),
		deltas:  make(map[string]Delta, len(s.deltas)),
	}
	for sym, ts := range s.tickers {
		copied := *ts
		copied.History = append([]Presence(nil), ts.History...)
		next.tickers[sym] = &copied
	}
	for key, delta := range s.deltas {
		next.deltas[key] = delta
	}
	return next
}

var dec100 = decimal.NewFromInt(100)

// Table returns the current analysis for every ticker on the latest list,
// ordered by streak descending then symbol ascending.
func (s *State) Table() []TableRow {
	rows := make([]TableRow, 0, len(s.tickers))
	closeout := decimal.NewFromInt(int64(s.cfg.CloseoutDays))

	for _, ts := range s.tickers {
		if ts.Streak <= 0 {
			continue
		}

		remaining := s.cfg.CloseoutDays - ts.Streak
		if remaining < 0 {
			remaining = 0
		}
		pct := decimal.NewFromInt(int64(ts.Streak)).Div(closeout).Mul(dec100).Round(0)
		if pct.GreaterThan(dec100) {
			pct = dec100
		}

		rows = append(rows, TableRow{
			Symbol:        ts.Symbol,
			Name:          ts.Name,
			Market:        ts.Market,
			MarketLabel:   MarketLabel(ts.Market),
			Rule3210:      ts.Rule3210,
			Streak:        ts.Streak,
			Risk:          s.cfg.Classify(ts.Streak),
			FirstSeen:     ts.FirstSeen,
			LastSeen:      ts.LastSeen,
			DaysRemaining: remaining,
			PctToDeadline: pct,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Streak != rows[j].Streak {
			return rows[i].Streak > rows[j].Streak
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return rows
}

// History returns oldest-first presence flags for a symbol over the last
// days publication days, bounded by the retained window. Days before the
// ticker was first observed report absent.
func (s *State) History(symbol string, days int) ([]Presence, error) {
	ts, ok := s.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: symbol %s", ErrNotFound, symbol)
	}

	if days <= 0 || days > len(s.dates) {
		days = len(s.dates)
	}
	window := s.dates[len(s.dates)-days:]

	seen := make(map[string]bool, len(ts.History))
	for _, flag := range ts.History {
		seen[dayKey(flag.Date)] = flag.Present
	}

	flags := make([]Presence, 0, len(window))
	for _, date := range window {
		flags = append(flags, Presence{Date: date, Present: seen[dayKey(date)]})
	}
	return flags, nil
}

// Deltas returns the additions/removals recorded for the ingestion on the
// given day.
func (s *State) Deltas(date time.Time) (Delta, error) {
	delta, ok := s.deltas[dayKey(Day(date))]
	if !ok {
		return Delta{}, fmt.Errorf("%w: no ingestion on %s", ErrNotFound, dayKey(Day(date)))
	}
	return delta, nil
}

// Ticker returns the tracked state for a symbol, including tickers currently
// off the list but still within the retention window.
func (s *State) Ticker(symbol string) (TickerState, error) {
	ts, ok := s.tickers[symbol]
	if !ok {
		return TickerState{}, fmt.Errorf("%w: symbol %s", ErrNotFound, symbol)
	}
	copied := *ts
	copied.History = append([]Presence(nil), ts.History...)
	return copied, nil
}

// Summary aggregates the current table plus the latest delta counts.
func (s *State) Summary() Summary {
	var sum Summary
	for _, ts := range s.tickers {
		if ts.Streak <= 0 {
			continue
		}
		sum.Total++
		switch s.cfg.Classify(ts.Streak) {
		case RiskSafe:
			sum.Safe++
		case RiskWarning:
			sum.Warning++
		case RiskDanger:
			sum.Danger++
		case RiskBreach:
			sum.Breach++
		}
		if ts.Rule3210 == "Y" {
			sum.Rule3210++
		}
	}
	if last, ok := s.LastDate(); ok {
		if delta, err := s.Deltas(last); err == nil {
			sum.Added = len(delta.Added)
			sum.Removed = len(delta.Removed)
		}
	}
	return sum
}

// Config exposes the thresholds the state was built with.
func (s *State) Config() Config {
	return s.cfg
}
