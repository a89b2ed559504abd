package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

const sampleFile = `Symbol|Security Name|Market Category|Reg SHO Threshold Flag|Rule 3210|Filler
AAA|Alpha Apps Inc. - Common Stock|G|Y|N|
BBB|Beta Bio Corp - Common Stock|S|Y|Y|
CCC|Gamma Industries|Q|Y||
20260106220001|||||
`

func TestFetchParsesThresholdFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nasdaqth20260106.txt" {
			t.Fatalf("路径不正确: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(sampleFile))
	}))
	defer srv.Close()

	n := NewNasdaq(NasdaqOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	snap, err := n.Fetch(context.Background(), time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(snap.Entries) != 3 {
		t.Fatalf("应解析 3 条记录, 实际 %d", len(snap.Entries))
	}
	if snap.Entries[0].Symbol != "AAA" || snap.Entries[0].Market != "G" {
		t.Fatalf("first entry wrong: %+v", snap.Entries[0])
	}
	if snap.Entries[1].Rule3210 != "Y" {
		t.Fatalf("rule 3210 flag should carry through: %+v", snap.Entries[1])
	}
	if snap.Entries[2].Rule3210 != "N" {
		t.Fatalf("missing rule 3210 flag should default to N: %+v", snap.Entries[2])
	}
	if !snap.Date.Equal(time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("snapshot date wrong: %s", snap.Date)
	}
}

func TestBaseURLTrailingSlashNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nasdaqth20260106.txt" {
			t.Fatalf("尾斜杠未被归一化: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(sampleFile))
	}))
	defer srv.Close()

	n := NewNasdaq(NasdaqOptions{BaseURL: srv.URL + "/", Timeout: time.Second}, noopLogger())
	if _, err := n.Fetch(context.Background(), time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestFetchSkipsTimestampAndShortRows(t *testing.T) {
	entries := parseThresholdFile(sampleFile + "short|row\n")
	for _, e := range entries {
		if isTimestampRow(e.Symbol) {
			t.Fatalf("timestamp row leaked into entries: %+v", e)
		}
	}
	if len(entries) != 3 {
		t.Fatalf("short rows should be skipped: %d", len(entries))
	}
}

func TestFetchNotPublishedOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	n := NewNasdaq(NasdaqOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := n.Fetch(context.Background(), time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNotPublished) {
		t.Fatalf("404 应视为未发布, 实际 %v", err)
	}
}

func TestFetchNotPublishedOnHTMLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>No file</body></html>"))
	}))
	defer srv.Close()

	n := NewNasdaq(NasdaqOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := n.Fetch(context.Background(), time.Now()); !errors.Is(err, ErrNotPublished) {
		t.Fatalf("无管道符的响应应视为未发布, 实际 %v", err)
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNasdaq(NasdaqOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := n.Fetch(context.Background(), time.Now())
	if err == nil || errors.Is(err, ErrNotPublished) {
		t.Fatalf("HTTP 500 应是抓取错误, 实际 %v", err)
	}
}

func TestFetchDeduplicatesSymbols(t *testing.T) {
	file := "Symbol|Name|Market|Flag|Rule\nAAA|First|G|Y|N\nAAA|Second|G|Y|N\n"
	entries := parseThresholdFile(file)
	if len(entries) != 1 || entries[0].Name != "First" {
		t.Fatalf("duplicate symbols within a file should keep the first row: %+v", entries)
	}
}
