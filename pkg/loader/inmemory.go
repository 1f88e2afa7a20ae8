package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/alphapipe/alphapipe/pkg/calendar"
	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// InMemory is a Loader backed by pre-aligned in-memory panels. It is used
// by tests and by the ingest path before bars are persisted.
type InMemory struct {
	cal *calendar.Calendar

	// columns maps column name to asset to one value per calendar session.
	columns map[string]map[string][]float64
}

// NewInMemory builds an in-memory loader over the given calendar. Each
// column panel maps asset to a series with exactly one value per calendar
// session, oldest first.
func NewInMemory(cal *calendar.Calendar, columns map[string]map[string][]float64) (*InMemory, error) {
	for column, panel := range columns {
		for asset, series := range panel {
			if len(series) != cal.Len() {
				return nil, fmt.Errorf(
					"column %q asset %q has %d values for %d calendar sessions",
					column, asset, len(series), cal.Len())
			}
		}
	}
	return &InMemory{cal: cal, columns: columns}, nil
}

// GetWindow implements Loader. Unknown assets and sessions outside the
// backing calendar are filled with NaN; unknown columns are an error.
func (l *InMemory) GetWindow(ctx context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewFailure(column, sessions, assets, err)
	}
	panel, ok := l.columns[column]
	if !ok {
		return nil, NewFailure(column, sessions, assets, fmt.Errorf("unknown column %q", column))
	}

	frame := pipeline.NewFrame(sessions, assets)
	for i, session := range sessions {
		row, err := l.cal.Index(session)
		if err != nil {
			continue
		}
		for j, asset := range assets {
			series, ok := panel[asset]
			if !ok {
				continue
			}
			frame.Data[i][j] = series[row]
		}
	}
	return frame, nil
}
