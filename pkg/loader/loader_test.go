package loader

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alphapipe/alphapipe/pkg/calendar"
	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	return calendar.NewWeekday(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	)
}

func seq(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func TestInMemory_GetWindow(t *testing.T) {
	cal := testCalendar(t)
	l, err := NewInMemory(cal, map[string]map[string][]float64{
		"close": {
			"AAPL": seq(100, cal.Len()),
			"MSFT": seq(200, cal.Len()),
		},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	sessions := cal.Sessions()[2:5]
	frame, err := l.GetWindow(context.Background(), "close", sessions, []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	if err := frame.Validate(); err != nil {
		t.Fatalf("frame shape: %v", err)
	}
	if got := frame.At(0, 0); got != 102 {
		t.Errorf("first AAPL value = %v, want 102", got)
	}
	if got := frame.At(2, 1); got != 204 {
		t.Errorf("last MSFT value = %v, want 204", got)
	}
}

func TestInMemory_UnknownAssetIsNaN(t *testing.T) {
	cal := testCalendar(t)
	l, err := NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAPL": seq(100, cal.Len())},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	frame, err := l.GetWindow(context.Background(), "close", cal.Sessions()[:3], []string{"AAPL", "GHOST"})
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	for i := 0; i < frame.NumSessions(); i++ {
		if !math.IsNaN(frame.At(i, 1)) {
			t.Fatalf("unknown asset row %d = %v, want NaN", i, frame.At(i, 1))
		}
		if math.IsNaN(frame.At(i, 0)) {
			t.Fatalf("known asset row %d is NaN", i)
		}
	}
}

func TestInMemory_UnknownColumnFails(t *testing.T) {
	cal := testCalendar(t)
	l, err := NewInMemory(cal, map[string]map[string][]float64{})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	_, err = l.GetWindow(context.Background(), "volume", cal.Sessions()[:2], []string{"AAPL"})
	if err == nil {
		t.Fatal("expected error for unknown column")
	}
	if !pipeline.HasCode(err, pipeline.ErrCodeLoaderFailure) {
		t.Errorf("error code = %v, want LOADER_FAILURE", err)
	}
	if !pipeline.IsRuntimeError(err) {
		t.Errorf("unknown column should be a runtime error, got %v", err)
	}
}

func TestInMemory_SeriesLengthMismatch(t *testing.T) {
	cal := testCalendar(t)
	_, err := NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAPL": seq(100, 3)},
	})
	if err == nil {
		t.Fatal("expected error for misaligned series")
	}
}

// countingLoader counts underlying calls for cache verification.
type countingLoader struct {
	inner Loader
	calls atomic.Int64
}

func (c *countingLoader) GetWindow(ctx context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error) {
	c.calls.Add(1)
	return c.inner.GetWindow(ctx, column, sessions, assets)
}

func TestCaching_DeduplicatesIdenticalRequests(t *testing.T) {
	cal := testCalendar(t)
	inner, err := NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAPL": seq(100, cal.Len())},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	counting := &countingLoader{inner: inner}
	cached := NewCaching(counting)

	sessions := cal.Sessions()[:5]
	assets := []string{"AAPL"}
	first, err := cached.GetWindow(context.Background(), "close", sessions, assets)
	if err != nil {
		t.Fatalf("first GetWindow: %v", err)
	}
	second, err := cached.GetWindow(context.Background(), "close", sessions, assets)
	if err != nil {
		t.Fatalf("second GetWindow: %v", err)
	}
	if first != second {
		t.Error("identical requests should return the shared cached frame")
	}
	if got := counting.calls.Load(); got != 1 {
		t.Errorf("underlying calls = %d, want 1", got)
	}

	// A different window is a different request.
	if _, err := cached.GetWindow(context.Background(), "close", cal.Sessions()[:6], assets); err != nil {
		t.Fatalf("third GetWindow: %v", err)
	}
	if got := counting.calls.Load(); got != 2 {
		t.Errorf("underlying calls = %d, want 2", got)
	}
	if got := cached.Len(); got != 2 {
		t.Errorf("distinct cached requests = %d, want 2", got)
	}
}

// blockingLoader gates its responses so tests can hold concurrent callers
// inside a single in-flight request.
type blockingLoader struct {
	inner   Loader
	release chan struct{}
	calls   atomic.Int64
}

func (b *blockingLoader) GetWindow(ctx context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error) {
	b.calls.Add(1)
	<-b.release
	return b.inner.GetWindow(ctx, column, sessions, assets)
}

func TestCaching_CoalescesConcurrentRequests(t *testing.T) {
	cal := testCalendar(t)
	inner, err := NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAPL": seq(100, cal.Len())},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	blocking := &blockingLoader{inner: inner, release: make(chan struct{})}
	cached := NewCaching(blocking)

	sessions := cal.Sessions()[:5]
	assets := []string{"AAPL"}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cached.GetWindow(context.Background(), "close", sessions, assets)
		}(i)
	}

	// Let the goroutines pile up behind the single in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(blocking.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := blocking.calls.Load(); got != 1 {
		t.Errorf("underlying calls = %d, want 1", got)
	}
}

func TestCaching_ContextCancelWhileWaiting(t *testing.T) {
	cal := testCalendar(t)
	inner, err := NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAPL": seq(100, cal.Len())},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	blocking := &blockingLoader{inner: inner, release: make(chan struct{})}
	cached := NewCaching(blocking)

	sessions := cal.Sessions()[:5]
	assets := []string{"AAPL"}

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = cached.GetWindow(context.Background(), "close", sessions, assets)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cached.GetWindow(ctx, "close", sessions, assets)
	if err == nil {
		t.Fatal("expected error for canceled waiter")
	}
	if !pipeline.HasCode(err, pipeline.ErrCodeLoaderFailure) {
		t.Errorf("error code = %v, want LOADER_FAILURE", err)
	}
	close(blocking.release)
}
