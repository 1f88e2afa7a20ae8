package pipeline

import (
	"fmt"
	"math"
	"time"
)

// Frame is a session-by-asset block of values: one row per session (oldest
// first), one column per asset. Cells are NaN where data is missing. Frames
// are the unit of exchange between the Loader, the execution engine's
// per-term caches, and the output assembler.
type Frame struct {
	// Sessions are the business days covered, oldest first.
	Sessions []time.Time

	// Assets are the column labels, in universe order.
	Assets []string

	// Data holds one row per session; each row has one value per asset.
	Data [][]float64
}

// NewFrame allocates a frame of the given shape with every cell missing.
func NewFrame(sessions []time.Time, assets []string) *Frame {
	data := make([][]float64, len(sessions))
	for i := range data {
		row := make([]float64, len(assets))
		for j := range row {
			row[j] = math.NaN()
		}
		data[i] = row
	}
	return &Frame{Sessions: sessions, Assets: assets, Data: data}
}

// Validate checks that the frame's shape is internally consistent.
func (f *Frame) Validate() error {
	if len(f.Data) != len(f.Sessions) {
		return fmt.Errorf("frame has %d rows for %d sessions", len(f.Data), len(f.Sessions))
	}
	for i, row := range f.Data {
		if len(row) != len(f.Assets) {
			return fmt.Errorf("frame row %d has %d columns for %d assets", i, len(row), len(f.Assets))
		}
	}
	return nil
}

// NumSessions returns the number of rows.
func (f *Frame) NumSessions() int { return len(f.Sessions) }

// NumAssets returns the number of columns.
func (f *Frame) NumAssets() int { return len(f.Assets) }

// At returns the value for the given session row and asset column.
func (f *Frame) At(session, asset int) float64 { return f.Data[session][asset] }

// Set writes the value for the given session row and asset column.
func (f *Frame) Set(session, asset int, v float64) { f.Data[session][asset] = v }

// Tail returns a view of the last n rows of the frame.
func (f *Frame) Tail(n int) *Frame {
	if n > len(f.Data) {
		n = len(f.Data)
	}
	start := len(f.Data) - n
	return &Frame{
		Sessions: f.Sessions[start:],
		Assets:   f.Assets,
		Data:     f.Data[start:],
	}
}

// Clone returns a deep copy of the frame's data with shared labels. Used
// before masking so cached inputs are never mutated.
func (f *Frame) Clone() *Frame {
	data := make([][]float64, len(f.Data))
	for i, row := range f.Data {
		data[i] = append([]float64(nil), row...)
	}
	return &Frame{Sessions: f.Sessions, Assets: f.Assets, Data: data}
}
