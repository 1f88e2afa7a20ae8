package engine

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// Result is the assembled output of a run: one row per (session, asset)
// pair passing the screen, in session-major order with assets in universe
// order inside each session. Columns lists the output names in sorted
// order; each row carries one value per column.
type Result struct {
	// Columns are the output names, sorted.
	Columns []string

	// Rows are the surviving (session, asset) observations.
	Rows []Row

	index map[rowKey]int
}

// Row is a single (session, asset) observation.
type Row struct {
	Session time.Time
	Asset   string
	Values  []float64
}

type rowKey struct {
	session time.Time
	asset   string
}

// assemble trims every output frame to the requested sessions, applies the
// screen, and flattens the survivors into rows.
func assemble(g *Graph, sessions []time.Time, assets []string, frames map[pipeline.TermID]*pipeline.Frame) *Result {
	result := &Result{
		Columns: g.OutputNames,
		index:   make(map[rowKey]int),
	}

	outFrames := make([]*pipeline.Frame, len(g.OutputNames))
	for i, name := range g.OutputNames {
		outFrames[i] = frames[g.Outputs[name].ID].Tail(len(sessions))
	}
	var screen *pipeline.Frame
	if g.Screen != nil {
		screen = frames[g.Screen.ID].Tail(len(sessions))
	}

	for s, session := range sessions {
		for a, asset := range assets {
			if screen != nil && screen.At(s, a) != 1 {
				continue
			}
			values := make([]float64, len(outFrames))
			for i, f := range outFrames {
				values[i] = f.At(s, a)
			}
			result.index[rowKey{session, asset}] = len(result.Rows)
			result.Rows = append(result.Rows, Row{Session: session, Asset: asset, Values: values})
		}
	}
	return result
}

// Len returns the number of rows in the result.
func (r *Result) Len() int { return len(r.Rows) }

// Get returns the value of the named column for a (session, asset) pair.
// The second return is false when the pair was screened out or the column
// does not exist.
func (r *Result) Get(session time.Time, asset, column string) (float64, bool) {
	i, ok := r.index[rowKey{session, asset}]
	if !ok {
		return math.NaN(), false
	}
	for c, name := range r.Columns {
		if name == column {
			return r.Rows[i].Values[c], true
		}
	}
	return math.NaN(), false
}

// Has reports whether a (session, asset) pair survived the screen.
func (r *Result) Has(session time.Time, asset string) bool {
	_, ok := r.index[rowKey{session, asset}]
	return ok
}

// WriteCSV writes the result as CSV with a date,asset header followed by
// one column per output. Missing values are written as empty cells.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append([]string{"date", "asset"}, r.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range r.Rows {
		record[0] = row.Session.Format("2006-01-02")
		record[1] = row.Asset
		for i, v := range row.Values {
			if math.IsNaN(v) {
				record[i+2] = ""
			} else {
				record[i+2] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
