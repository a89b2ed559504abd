package fetcher

import (
	"context"
	"errors"
	"time"

	"regsho-monitor/internal/engine"
)

// ErrNotPublished indicates the list for the requested day does not exist
// upstream: weekends, holidays, or a file not yet posted. Not a failure.
var ErrNotPublished = errors.New("fetcher: list not published for date")

// Source produces the threshold list for one publication day.
type Source interface {
	Fetch(ctx context.Context, date time.Time) (engine.Snapshot, error)
}
