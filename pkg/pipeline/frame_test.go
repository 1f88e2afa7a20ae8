package pipeline

import (
	"math"
	"testing"
	"time"
)

func frameSessions(n int) []time.Time {
	sessions := make([]time.Time, n)
	for i := range sessions {
		sessions[i] = time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)
	}
	return sessions
}

func TestNewFrame_AllMissing(t *testing.T) {
	f := NewFrame(frameSessions(3), []string{"A", "B"})

	if f.NumSessions() != 3 || f.NumAssets() != 2 {
		t.Fatalf("Expected 3x2 frame, got %dx%d", f.NumSessions(), f.NumAssets())
	}
	for i := 0; i < f.NumSessions(); i++ {
		for j := 0; j < f.NumAssets(); j++ {
			if !math.IsNaN(f.At(i, j)) {
				t.Errorf("Expected NaN at (%d,%d), got %g", i, j, f.At(i, j))
			}
		}
	}
}

func TestFrame_SetAndAt(t *testing.T) {
	f := NewFrame(frameSessions(2), []string{"A"})
	f.Set(1, 0, 42)

	if f.At(1, 0) != 42 {
		t.Errorf("Expected 42, got %g", f.At(1, 0))
	}
	if !math.IsNaN(f.At(0, 0)) {
		t.Errorf("Expected untouched cell to stay NaN, got %g", f.At(0, 0))
	}
}

func TestFrame_Validate(t *testing.T) {
	f := NewFrame(frameSessions(2), []string{"A", "B"})
	if err := f.Validate(); err != nil {
		t.Errorf("Expected valid frame, got %v", err)
	}

	f.Data = f.Data[:1]
	if err := f.Validate(); err == nil {
		t.Error("Expected an error for a row count mismatch")
	}

	f = NewFrame(frameSessions(2), []string{"A", "B"})
	f.Data[1] = f.Data[1][:1]
	if err := f.Validate(); err == nil {
		t.Error("Expected an error for a column count mismatch")
	}
}

func TestFrame_Tail(t *testing.T) {
	f := NewFrame(frameSessions(4), []string{"A"})
	for i := 0; i < 4; i++ {
		f.Set(i, 0, float64(i))
	}

	tail := f.Tail(2)
	if tail.NumSessions() != 2 {
		t.Fatalf("Expected 2 rows, got %d", tail.NumSessions())
	}
	if tail.At(0, 0) != 2 || tail.At(1, 0) != 3 {
		t.Errorf("Expected last two rows, got [%g %g]", tail.At(0, 0), tail.At(1, 0))
	}
	if !tail.Sessions[0].Equal(f.Sessions[2]) {
		t.Error("Expected tail sessions to align with source rows")
	}

	// Tail longer than the frame returns the whole frame.
	if f.Tail(10).NumSessions() != 4 {
		t.Errorf("Expected 4 rows, got %d", f.Tail(10).NumSessions())
	}
}

func TestFrame_CloneIsDeep(t *testing.T) {
	f := NewFrame(frameSessions(2), []string{"A"})
	f.Set(0, 0, 1)

	c := f.Clone()
	c.Set(0, 0, 99)

	if f.At(0, 0) != 1 {
		t.Errorf("Expected clone writes to leave the source at 1, got %g", f.At(0, 0))
	}
}
