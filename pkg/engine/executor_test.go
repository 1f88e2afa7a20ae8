package engine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alphapipe/alphapipe/pkg/calendar"
	"github.com/alphapipe/alphapipe/pkg/loader"
	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

func testCalendar() *calendar.Calendar {
	return calendar.NewWeekday(
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC))
}

func linearSeries(n int, base, step float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = base + step*float64(i)
	}
	return s
}

func constantSeries(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// countingSource wraps a source and counts GetWindow calls reaching it.
type countingSource struct {
	inner loader.Loader
	calls atomic.Int64
}

func (c *countingSource) GetWindow(ctx context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error) {
	c.calls.Add(1)
	return c.inner.GetWindow(ctx, column, sessions, assets)
}

// failingSource fails every request.
type failingSource struct{}

func (failingSource) GetWindow(_ context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error) {
	return nil, loader.NewFailure(column, sessions, assets, context.DeadlineExceeded)
}

func TestEngine_Run_ReturnsValues(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()
	assets := []string{"AAA", "BBB"}

	closeA := linearSeries(cal.Len(), 100, 1)
	closeB := linearSeries(cal.Len(), 200, 2)
	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAA": closeA, "BBB": closeB},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	ret := mustExpr(t)(pipeline.Returns(2))
	p := NewPipeline()
	if err := p.Add("daily_return", ret); err != nil {
		t.Fatalf("Add: %v", err)
	}

	start, end := sessions[5], sessions[9]
	result, err := New().Run(context.Background(), p, cal, start, end, assets, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Len() != 5*len(assets) {
		t.Fatalf("Len() = %d, want %d", result.Len(), 5*len(assets))
	}

	for i := 5; i <= 9; i++ {
		wantA := (closeA[i] - closeA[i-1]) / closeA[i-1]
		got, ok := result.Get(sessions[i], "AAA", "daily_return")
		if !ok {
			t.Fatalf("missing row for AAA at %s", sessions[i].Format("2006-01-02"))
		}
		if !almostEqual(got, wantA) {
			t.Errorf("AAA return at %s = %g, want %g", sessions[i].Format("2006-01-02"), got, wantA)
		}
		wantB := (closeB[i] - closeB[i-1]) / closeB[i-1]
		got, ok = result.Get(sessions[i], "BBB", "daily_return")
		if !ok {
			t.Fatalf("missing row for BBB at %s", sessions[i].Format("2006-01-02"))
		}
		if !almostEqual(got, wantB) {
			t.Errorf("BBB return at %s = %g, want %g", sessions[i].Format("2006-01-02"), got, wantB)
		}
	}
}

func TestEngine_Run_SMAValues(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()
	assets := []string{"AAA"}

	closeA := linearSeries(cal.Len(), 10, 1)
	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAA": closeA},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	p := NewPipeline()
	if err := p.Add("sma3", mustExpr(t)(pipeline.SMA(pipeline.Close, 3))); err != nil {
		t.Fatalf("Add: %v", err)
	}

	start, end := sessions[4], sessions[6]
	result, err := New().Run(context.Background(), p, cal, start, end, assets, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 4; i <= 6; i++ {
		want := (closeA[i-2] + closeA[i-1] + closeA[i]) / 3
		got, ok := result.Get(sessions[i], "AAA", "sma3")
		if !ok {
			t.Fatalf("missing row at %s", sessions[i].Format("2006-01-02"))
		}
		if !almostEqual(got, want) {
			t.Errorf("sma3 at %s = %g, want %g", sessions[i].Format("2006-01-02"), got, want)
		}
	}
}

func TestEngine_Run_SharedColumnLoadedOnce(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()
	assets := []string{"AAA", "BBB"}

	mem, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {
			"AAA": linearSeries(cal.Len(), 100, 1),
			"BBB": linearSeries(cal.Len(), 50, 0.5),
		},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	src := &countingSource{inner: mem}

	p := NewPipeline()
	if err := p.Add("sma5", mustExpr(t)(pipeline.SMA(pipeline.Close, 5))); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add("ret5", mustExpr(t)(pipeline.Returns(5))); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = New().Run(context.Background(), p, cal, sessions[8], sessions[12], assets, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("close column loaded %d times, want 1", got)
	}
}

func TestEngine_Run_NoLookAhead(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()
	assets := []string{"AAA"}

	base := linearSeries(cal.Len(), 100, 1)
	perturbed := make([]float64, len(base))
	copy(perturbed, base)
	for i := 11; i < len(perturbed); i++ {
		perturbed[i] = base[i] * 10
	}

	run := func(series []float64) *Result {
		src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
			"close": {"AAA": series},
		})
		if err != nil {
			t.Fatalf("NewInMemory: %v", err)
		}
		p := NewPipeline()
		if err := p.Add("sma4", mustExpr(t)(pipeline.SMA(pipeline.Close, 4))); err != nil {
			t.Fatalf("Add: %v", err)
		}
		result, err := New().Run(context.Background(), p, cal, sessions[6], sessions[10], assets, src)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return result
	}

	a, b := run(base), run(perturbed)
	for i := 6; i <= 10; i++ {
		va, _ := a.Get(sessions[i], "AAA", "sma4")
		vb, _ := b.Get(sessions[i], "AAA", "sma4")
		if !almostEqual(va, vb) {
			t.Errorf("output at %s changed with future data: %g vs %g",
				sessions[i].Format("2006-01-02"), va, vb)
		}
	}
}

func TestEngine_Run_ScreenExcludesRows(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()
	assets := []string{"CHEAP", "RICH"}

	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {
			"CHEAP": constantSeries(cal.Len(), 100),
			"RICH":  constantSeries(cal.Len(), 300),
		},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	p := NewPipeline()
	if err := p.Add("px", mustExpr(t)(pipeline.Latest(pipeline.Close))); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.SetScreen(mustExpr(t)(pipeline.GreaterThan(pipeline.Close, 150))); err != nil {
		t.Fatalf("SetScreen: %v", err)
	}

	result, err := New().Run(context.Background(), p, cal, sessions[3], sessions[5], assets, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", result.Len())
	}
	for i := 3; i <= 5; i++ {
		if result.Has(sessions[i], "CHEAP") {
			t.Errorf("screened-out asset present at %s", sessions[i].Format("2006-01-02"))
		}
		got, ok := result.Get(sessions[i], "RICH", "px")
		if !ok || !almostEqual(got, 300) {
			t.Errorf("RICH px at %s = %g (ok=%v), want 300", sessions[i].Format("2006-01-02"), got, ok)
		}
	}
}

func TestEngine_Run_MaskRestrictsQuantiles(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()
	assets := []string{"A", "B", "C", "D"}

	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {
			"A": constantSeries(cal.Len(), 100),
			"B": constantSeries(cal.Len(), 120),
			"C": constantSeries(cal.Len(), 200),
			"D": constantSeries(cal.Len(), 300),
		},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	liquid := mustExpr(t)(pipeline.GreaterThan(pipeline.Close, 150))
	buckets := mustExpr(t)(pipeline.Quantiles(pipeline.Close, 2, pipeline.WithMask(liquid)))

	p := NewPipeline()
	if err := p.Add("bucket", buckets); err != nil {
		t.Fatalf("Add: %v", err)
	}

	result, err := New().Run(context.Background(), p, cal, sessions[2], sessions[2], assets, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, asset := range []string{"A", "B"} {
		got, ok := result.Get(sessions[2], asset, "bucket")
		if !ok {
			t.Fatalf("missing row for %s", asset)
		}
		if !math.IsNaN(got) {
			t.Errorf("masked asset %s bucket = %g, want NaN", asset, got)
		}
	}
	// Quantile ranks are taken among the unmasked assets only.
	if got, _ := result.Get(sessions[2], "C", "bucket"); !almostEqual(got, 0) {
		t.Errorf("C bucket = %g, want 0", got)
	}
	if got, _ := result.Get(sessions[2], "D", "bucket"); !almostEqual(got, 1) {
		t.Errorf("D bucket = %g, want 1", got)
	}
}

func TestEngine_Run_CycleFailsBeforeLoading(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()

	mem, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAA": constantSeries(cal.Len(), 1)},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	src := &countingSource{inner: mem}

	a := &cyclicTerm{name: "a"}
	b := &cyclicTerm{name: "b", inputs: []pipeline.Term{a}}
	a.inputs = []pipeline.Term{b}

	p := NewPipeline()
	if err := p.Add("out", a); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = New().Run(context.Background(), p, cal, sessions[2], sessions[4], []string{"AAA"}, src)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var pe *pipeline.PipelineError
	if !errors.As(err, &pe) || pe.Code != pipeline.ErrCodeCyclicDependency {
		t.Fatalf("error = %v, want code %s", err, pipeline.ErrCodeCyclicDependency)
	}
	if got := src.calls.Load(); got != 0 {
		t.Fatalf("loader called %d times before build failure, want 0", got)
	}
}

func TestEngine_Run_WindowTooLong(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()

	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAA": constantSeries(cal.Len(), 1)},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	p := NewPipeline()
	if err := p.Add("sma", mustExpr(t)(pipeline.SMA(pipeline.Close, 50))); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = New().Run(context.Background(), p, cal, sessions[2], sessions[4], []string{"AAA"}, src)
	if err == nil {
		t.Fatal("expected window error")
	}
	var pe *pipeline.PipelineError
	if !errors.As(err, &pe) || pe.Code != pipeline.ErrCodeWindowTooLong {
		t.Fatalf("error = %v, want code %s", err, pipeline.ErrCodeWindowTooLong)
	}
}

func TestEngine_Run_LoaderFailurePropagates(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()

	p := NewPipeline()
	if err := p.Add("px", mustExpr(t)(pipeline.Latest(pipeline.Close))); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err := New().Run(context.Background(), p, cal, sessions[2], sessions[4], []string{"AAA"}, failingSource{})
	if err == nil {
		t.Fatal("expected loader error")
	}
	var pe *pipeline.PipelineError
	if !errors.As(err, &pe) || pe.Code != pipeline.ErrCodeLoaderFailure {
		t.Fatalf("error = %v, want code %s", err, pipeline.ErrCodeLoaderFailure)
	}
	if pe.Class != pipeline.ErrorClassRuntime {
		t.Fatalf("error class = %s, want %s", pe.Class, pipeline.ErrorClassRuntime)
	}
}

func TestEngine_Run_CanceledContext(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()

	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAA": constantSeries(cal.Len(), 1)},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	p := NewPipeline()
	if err := p.Add("px", mustExpr(t)(pipeline.Latest(pipeline.Close))); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Run(ctx, p, cal, sessions[2], sessions[4], []string{"AAA"}, src); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestResult_WriteCSV(t *testing.T) {
	cal := testCalendar()
	sessions := cal.Sessions()
	assets := []string{"AAA", "BBB"}

	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {
			"AAA": constantSeries(cal.Len(), 10),
			"BBB": constantSeries(cal.Len(), 20),
		},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	p := NewPipeline()
	if err := p.Add("px", mustExpr(t)(pipeline.Latest(pipeline.Close))); err != nil {
		t.Fatalf("Add: %v", err)
	}

	result, err := New().Run(context.Background(), p, cal, sessions[1], sessions[2], assets, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var buf bytes.Buffer
	if err := result.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("CSV has %d lines, want 5:\n%s", len(lines), buf.String())
	}
	if lines[0] != "date,asset,px" {
		t.Fatalf("header = %q, want %q", lines[0], "date,asset,px")
	}
	if !strings.HasPrefix(lines[1], sessions[1].Format("2006-01-02")+",AAA,") {
		t.Fatalf("first row = %q", lines[1])
	}
}

func TestEngine_Run_UnknownSessionFails(t *testing.T) {
	cal := testCalendar()

	src, err := loader.NewInMemory(cal, map[string]map[string][]float64{
		"close": {"AAA": constantSeries(cal.Len(), 1)},
	})
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	p := NewPipeline()
	if err := p.Add("px", mustExpr(t)(pipeline.Latest(pipeline.Close))); err != nil {
		t.Fatalf("Add: %v", err)
	}

	saturday := time.Date(2024, time.January, 6, 0, 0, 0, 0, time.UTC)
	_, err = New().Run(context.Background(), p, cal, saturday, saturday, []string{"AAA"}, src)
	if err == nil {
		t.Fatal("expected error for non-session start date")
	}
}
