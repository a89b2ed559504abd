package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

// Show prints the current analysis table with a summary footer.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	eng, closeStore, err := a.loadEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	view := eng.View()

	rows := view.Table()
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "threshold list is empty (no snapshots ingested)")
		return nil
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tName\tMarket\tStreak\tRisk\tFirst Seen\tDays Left\tTo Deadline\tRule 3210")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\t%s\t%d\t%s%%\t%s\n",
			row.Symbol,
			sanitizeInline(row.Name),
			row.MarketLabel,
			row.Streak,
			strings.ToUpper(string(row.Risk)),
			row.FirstSeen.Format("2006-01-02"),
			row.DaysRemaining,
			row.PctToDeadline.StringFixed(0),
			row.Rule3210,
		)
	}
	writer.Flush()

	sum := view.Summary()
	fmt.Fprintf(os.Stdout, "\ntotal %d | danger %d | warning %d | safe %d | breach %d | rule3210 %d | +%d -%d today\n",
		sum.Total, sum.Danger, sum.Warning, sum.Safe, sum.Breach, sum.Rule3210, sum.Added, sum.Removed)

	if last, ok := view.LastDate(); ok {
		if delta, deltaErr := view.Deltas(last); deltaErr == nil {
			if len(delta.Added) > 0 {
				fmt.Fprintf(os.Stdout, "added today: %s\n", strings.Join(delta.Added, ", "))
			}
			for _, rem := range delta.Removed {
				fmt.Fprintf(os.Stdout, "removed today: %s (streak was %d)\n", rem.Symbol, rem.StreakAtRemoval)
			}
		}
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
