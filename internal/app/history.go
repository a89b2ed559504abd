package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"regsho-monitor/internal/engine"
)

// History prints oldest-first presence flags for one symbol.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	if opts.Symbol == "" {
		return errors.New("symbol is required")
	}

	eng, closeStore, err := a.loadEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	view := eng.View()
	flags, err := view.History(opts.Symbol, opts.Days)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return fmt.Errorf("symbol %s was never observed in the retained window", opts.Symbol)
		}
		return err
	}

	ts, tickerErr := view.Ticker(opts.Symbol)

	fmt.Fprintf(os.Stdout, "%s", opts.Symbol)
	if tickerErr == nil && ts.Name != "" {
		fmt.Fprintf(os.Stdout, " (%s)", ts.Name)
	}
	if tickerErr == nil && ts.Streak > 0 {
		fmt.Fprintf(os.Stdout, " - streak %d, risk %s", ts.Streak, view.Config().Classify(ts.Streak))
	} else {
		fmt.Fprintf(os.Stdout, " - currently off the list")
	}
	fmt.Fprintln(os.Stdout)

	for _, flag := range flags {
		mark := "absent"
		if flag.Present {
			mark = "listed"
		}
		fmt.Fprintf(os.Stdout, "%s  %s\n", flag.Date.Format("2006-01-02"), mark)
	}
	return nil
}
