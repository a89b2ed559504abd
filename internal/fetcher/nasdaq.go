package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"regsho-monitor/internal/engine"
)

const defaultBaseURL = "http://www.nasdaqtrader.com/dynamic/symdir/regsho"

// NasdaqOptions parameterise the NASDAQ threshold-file fetcher.
type NasdaqOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Nasdaq downloads and parses the daily pipe-delimited threshold file.
type Nasdaq struct {
	opts   NasdaqOptions
	logger zerolog.Logger
	client *http.Client
}

// NewNasdaq constructs a NASDAQ threshold-list source. Options are normalised
// here, so opts is the single source of truth afterwards.
func NewNasdaq(opts NasdaqOptions, logger zerolog.Logger) *Nasdaq {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}

	return &Nasdaq{
		opts:   opts,
		logger: logger.With().Str("component", "nasdaq_fetcher").Logger(),
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Fetch downloads the threshold file for a publication day. Absent or empty
// files report ErrNotPublished; transport and schema problems are fetch errors.
func (n *Nasdaq) Fetch(ctx context.Context, date time.Time) (engine.Snapshot, error) {
	url := fmt.Sprintf("%s/nasdaqth%s.txt", n.opts.BaseURL, date.Format("20060102"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return engine.Snapshot{}, err
	}
	if ua := strings.TrimSpace(n.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("fetch threshold file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return engine.Snapshot{}, fmt.Errorf("%w: %s", ErrNotPublished, date.Format("2006-01-02"))
	}
	if resp.StatusCode != http.StatusOK {
		return engine.Snapshot{}, fmt.Errorf("threshold file http %d for %s", resp.StatusCode, date.Format("2006-01-02"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("read threshold file: %w", err)
	}

	text := string(body)
	if !strings.Contains(text, "|") {
		// the site serves an HTML page or empty body for unpublished days
		return engine.Snapshot{}, fmt.Errorf("%w: %s", ErrNotPublished, date.Format("2006-01-02"))
	}

	entries := parseThresholdFile(text)
	if len(entries) == 0 {
		return engine.Snapshot{}, fmt.Errorf("%w: %s", ErrNotPublished, date.Format("2006-01-02"))
	}

	n.logger.Debug().Str("date", date.Format("2006-01-02")).Int("entries", len(entries)).Msg("threshold file fetched")
	return engine.Snapshot{Date: engine.Day(date), Entries: entries}, nil
}

// parseThresholdFile parses the pipe-delimited file body. The first line is a
// column header and the file ends with a creation-timestamp row whose first
// field is numeric; both are skipped, as are short rows.
func parseThresholdFile(text string) []engine.Entry {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= 1 {
		return nil
	}

	entries := make([]engine.Entry, 0, len(lines)-1)
	seen := make(map[string]struct{}, len(lines)-1)
	for _, line := range lines[1:] {
		parts := strings.Split(line, "|")
		if len(parts) < 4 {
			continue
		}
		sym := strings.TrimSpace(parts[0])
		if sym == "" || isTimestampRow(sym) {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}

		entry := engine.Entry{
			Symbol: sym,
			Name:   strings.TrimSpace(parts[1]),
			Market: strings.TrimSpace(parts[2]),
		}
		entry.Rule3210 = "N"
		if len(parts) > 4 {
			if flag := strings.TrimSpace(parts[4]); flag != "" {
				entry.Rule3210 = flag
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func isTimestampRow(field string) bool {
	if len(field) < 8 {
		return false
	}
	for _, r := range field[:8] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var _ Source = (*Nasdaq)(nil)
