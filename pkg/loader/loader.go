// Package loader defines the contract through which raw per-asset,
// per-session arrays are supplied to the execution engine, together with a
// caching decorator that deduplicates and coalesces identical requests
// within a run.
//
// The engine makes no assumption about a Loader's backing store; it only
// requires that calls are deterministic for a given (column, session range,
// asset set) and that returned frames are aligned to the requested sessions
// with no forward-looking rows.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// Loader supplies raw windowed data for leaf terms.
type Loader interface {
	// GetWindow returns a frame with exactly one row per requested session
	// (in the order given, oldest first) and one column per requested asset
	// (in the order given). Cells without data are NaN. Implementations must
	// be safe for concurrent use.
	GetWindow(ctx context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error)
}

// NewFailure builds the error reported when a loader request cannot be
// served. It identifies the failing (column, date range, asset set) request.
func NewFailure(column string, sessions []time.Time, assets []string, err error) *pipeline.PipelineError {
	e := pipeline.NewRuntimeError(fmt.Sprintf("loader request for column %q failed", column), err).
		WithCode(pipeline.ErrCodeLoaderFailure).
		WithOperation("get_window").
		WithDetail("column", column).
		WithDetail("assets", len(assets))
	if len(sessions) > 0 {
		e = e.WithDetail("start", sessions[0].Format("2006-01-02")).
			WithDetail("end", sessions[len(sessions)-1].Format("2006-01-02"))
	}
	return e
}
