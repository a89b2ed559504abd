package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is one security as published on the daily threshold file.
type Entry struct {
	Symbol   string
	Name     string
	Market   string
	Rule3210 string
}

// Snapshot is the full threshold list for one publication day.
type Snapshot struct {
	Date    time.Time
	Entries []Entry
}

// Presence records whether a ticker appeared on one publication day.
type Presence struct {
	Date    time.Time
	Present bool
}

// TickerState tracks one security across successive publication days.
type TickerState struct {
	Symbol   string
	Name     string
	Market   string
	Rule3210 string
	// Streak is the count of consecutive publication days on the list.
	// Zero while the ticker is tracked for history but currently off the list.
	Streak    int
	FirstSeen time.Time
	LastSeen  time.Time
	History   []Presence
}

// RemovedTicker describes a security dropped from the list on a given day.
type RemovedTicker struct {
	Symbol          string
	Name            string
	Market          string
	Rule3210        string
	StreakAtRemoval int
}

// Delta reports the additions and removals produced by one ingestion.
type Delta struct {
	Date    time.Time
	Added   []string
	Removed []RemovedTicker
}

// TableRow is one line of the current analysis table.
type TableRow struct {
	Symbol        string
	Name          string
	Market        string
	MarketLabel   string
	Rule3210      string
	Streak        int
	Risk          Risk
	FirstSeen     time.Time
	LastSeen      time.Time
	DaysRemaining int
	PctToDeadline decimal.Decimal
}

// Summary aggregates the current table by risk band.
type Summary struct {
	Total    int
	Safe     int
	Warning  int
	Danger   int
	Breach   int
	Rule3210 int
	Added    int
	Removed  int
}

var marketLabels = map[string]string{
	"G": "Global Select",
	"S": "Capital Market",
	"Q": "Global Market",
}

// MarketLabel resolves a NASDAQ market tier code to its display name.
// Unknown codes pass through unchanged.
func MarketLabel(code string) string {
	if label, ok := marketLabels[code]; ok {
		return label
	}
	return code
}

// Day normalises a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
