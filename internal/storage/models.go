package storage

import (
	"time"

	"regsho-monitor/internal/engine"
)

// entryRecord is the persisted jsonb shape of one threshold-list entry.
type entryRecord struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Market   string `json:"market"`
	Rule3210 string `json:"rule3210"`
}

func toRecords(entries []engine.Entry) []entryRecord {
	records := make([]entryRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, entryRecord{
			Symbol:   e.Symbol,
			Name:     e.Name,
			Market:   e.Market,
			Rule3210: e.Rule3210,
		})
	}
	return records
}

func fromRecords(date time.Time, records []entryRecord) engine.Snapshot {
	entries := make([]engine.Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, engine.Entry{
			Symbol:   r.Symbol,
			Name:     r.Name,
			Market:   r.Market,
			Rule3210: r.Rule3210,
		})
	}
	return engine.Snapshot{Date: engine.Day(date), Entries: entries}
}
