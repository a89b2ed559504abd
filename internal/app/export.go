package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"regsho-monitor/internal/engine"
)

// Export writes the current analysis as CSV and/or a PNG chart of the
// per-day list size and risk-band counts.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ChartDays <= 0 {
		opts.ChartDays = a.Config.Export.ChartDays
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	snaps, err := store.ListSnapshotsSince(ctx, time.Time{})
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Msg("snapshot log is empty; nothing to export")
		return nil
	}

	// fold day by day so the chart reflects each day's classification
	eng := engine.New(a.engineConfig())
	points := make([]dayPoint, 0, len(snaps))
	for _, snap := range snaps {
		if _, ingestErr := eng.Ingest(snap); ingestErr != nil {
			return fmt.Errorf("fold snapshot %s: %w", snap.Date.Format("2006-01-02"), ingestErr)
		}
		sum := eng.View().Summary()
		points = append(points, dayPoint{
			date:    snap.Date,
			total:   sum.Total,
			warning: sum.Warning,
			danger:  sum.Danger + sum.Breach,
		})
	}

	view := eng.View()
	a.Logger.Info().Int("days", len(points)).Int("tickers", view.Summary().Total).Msg("exporting analysis")

	if opts.CSVPath != "" {
		if err := writeTableCSV(opts.CSVPath, view); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if len(points) > opts.ChartDays {
			points = points[len(points)-opts.ChartDays:]
		}
		if err := writeCountsPNG(opts.PNGPath, points); err != nil {
			return err
		}
	}

	return nil
}

type dayPoint struct {
	date    time.Time
	total   int
	warning int
	danger  int
}

func writeTableCSV(path string, view *engine.State) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"symbol", "name", "streak", "risk", "first_seen", "market", "days_remaining", "pct_to_deadline", "rule_3210"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range view.Table() {
		record := []string{
			row.Symbol,
			row.Name,
			fmt.Sprintf("%d", row.Streak),
			string(row.Risk),
			row.FirstSeen.Format("2006-01-02"),
			row.MarketLabel,
			fmt.Sprintf("%d", row.DaysRemaining),
			row.PctToDeadline.StringFixed(0) + "%",
			row.Rule3210,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeCountsPNG(path string, points []dayPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(points) < 2 {
		return errors.New("need at least two days of history to chart")
	}

	x := make([]time.Time, len(points))
	total := make([]float64, len(points))
	warning := make([]float64, len(points))
	danger := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.date
		total[i] = float64(p.total)
		warning[i] = float64(p.warning)
		danger[i] = float64(p.danger)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Securities on list",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total",
				XValues: x,
				YValues: total,
			},
			chart.TimeSeries{
				Name:    "Warning",
				XValues: x,
				YValues: warning,
			},
			chart.TimeSeries{
				Name:    "Danger+Breach",
				XValues: x,
				YValues: danger,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
