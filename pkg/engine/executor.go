package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/alphapipe/alphapipe/pkg/calendar"
	"github.com/alphapipe/alphapipe/pkg/loader"
	"github.com/alphapipe/alphapipe/pkg/pipeline"
	"github.com/alphapipe/alphapipe/pkg/telemetry"
)

// Engine evaluates compiled pipelines. Nodes are executed level by level
// with a bounded worker pool inside each level; a node's frame is cached
// for its consumers and released once the last of them has run.
type Engine struct {
	maxParallel int
	logger      *telemetry.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	events      *telemetry.EventPublisher
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxParallel bounds the number of nodes computed concurrently within
// an execution level.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithLogger attaches a structured logger to the engine.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics attaches run metrics to the engine.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches distributed tracing to the engine.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithEvents attaches an event publisher to the engine.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(e *Engine) { e.events = ep }
}

// New creates an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		maxParallel: 8,
		logger:      telemetry.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run compiles and evaluates a pipeline over [start, end] sessions of cal
// for the given asset universe, reading raw columns from src. The graph is
// fully validated before the first loader call; any error aborts the run
// with no partial results.
func (e *Engine) Run(
	ctx context.Context,
	p *Pipeline,
	cal *calendar.Calendar,
	start, end time.Time,
	assets []string,
	src loader.Loader,
) (*Result, error) {
	graph, err := p.Graph()
	if err != nil {
		e.recordError(err)
		return nil, err
	}
	return e.RunGraph(ctx, graph, cal, start, end, assets, src)
}

// RunGraph evaluates an already compiled graph.
func (e *Engine) RunGraph(
	ctx context.Context,
	graph *Graph,
	cal *calendar.Calendar,
	start, end time.Time,
	assets []string,
	src loader.Loader,
) (*Result, error) {
	runID := uuid.New().String()
	log := e.logger.WithRunID(runID)

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartRunSpan(ctx, runID)
		defer span.End()
	}

	sessions, err := cal.SessionsBetween(start, end)
	if err != nil {
		err := pipeline.NewRuntimeError("requested date range is not on the calendar", err).
			WithCode(pipeline.ErrCodeValidation)
		e.recordError(err)
		return nil, err
	}
	if len(assets) == 0 {
		err := pipeline.NewRuntimeError("asset universe is empty", nil).
			WithCode(pipeline.ErrCodeValidation)
		e.recordError(err)
		return nil, err
	}
	if src == nil {
		err := pipeline.NewRuntimeError("loader is nil", nil).
			WithCode(pipeline.ErrCodeValidation)
		e.recordError(err)
		return nil, err
	}

	log.WithField("sessions", len(sessions)).
		WithField("assets", len(assets)).
		WithField("nodes", len(graph.Order)).
		WithField("levels", len(graph.Levels)).
		Info("pipeline run started")
	if e.metrics != nil {
		e.metrics.RecordRunStarted()
		e.metrics.IncActiveRuns()
		defer e.metrics.DecActiveRuns()
	}
	if e.events != nil {
		_ = e.events.PublishRunStarted(runID, len(sessions), len(assets))
	}
	started := time.Now()

	rn := &run{
		engine:   e,
		graph:    graph,
		cal:      cal,
		start:    start,
		end:      end,
		sessions: sessions,
		assets:   assets,
		loader:   loader.NewCaching(e.instrument(src)),
		log:      log,
		frames:   make(map[pipeline.TermID]*pipeline.Frame, len(graph.Order)),
		refs:     make(map[pipeline.TermID]int, len(graph.Order)),
	}
	for _, n := range graph.Order {
		rn.refs[n.ID] = n.Refs
	}

	for level, nodes := range graph.Levels {
		if err := rn.runLevel(ctx, level, nodes); err != nil {
			log.WithError(err).Error("pipeline run failed")
			e.recordError(err)
			if e.metrics != nil {
				e.metrics.RecordRunCompleted("failed", time.Since(started))
			}
			if e.events != nil {
				_ = e.events.PublishRunFailed(runID, err.Error())
			}
			return nil, err
		}
	}

	result := assemble(graph, sessions, assets, rn.frames)
	log.WithField("rows", result.Len()).
		WithField("duration", time.Since(started).String()).
		Info("pipeline run completed")
	if e.metrics != nil {
		e.metrics.RecordRunCompleted("succeeded", time.Since(started))
	}
	if e.events != nil {
		_ = e.events.PublishRunCompleted(runID, "succeeded", time.Since(started))
	}
	return result, nil
}

func (e *Engine) recordError(err error) {
	if e.metrics == nil {
		return
	}
	var pe *pipeline.PipelineError
	if errors.As(err, &pe) {
		e.metrics.RecordError(string(pe.Class), pe.Code)
	}
}

// instrument wraps the source loader with per-call metrics. The caching
// wrapper sits outside it, so only cache misses are measured.
func (e *Engine) instrument(src loader.Loader) loader.Loader {
	if e.metrics == nil {
		return src
	}
	return &meteredLoader{inner: src, metrics: e.metrics}
}

type meteredLoader struct {
	inner   loader.Loader
	metrics *telemetry.Metrics
}

func (m *meteredLoader) GetWindow(ctx context.Context, column string, sessions []time.Time, assets []string) (*pipeline.Frame, error) {
	timer := telemetry.NewTimer()
	frame, err := m.inner.GetWindow(ctx, column, sessions, assets)
	m.metrics.RecordLoaderCall(column, timer.Duration())
	if err != nil {
		m.metrics.RecordLoaderError(column)
	}
	return frame, err
}

// run holds the mutable state of one evaluation: the frame cache and the
// remaining reference counts used to release frames early.
type run struct {
	engine   *Engine
	graph    *Graph
	cal      *calendar.Calendar
	start    time.Time
	end      time.Time
	sessions []time.Time
	assets   []string
	loader   loader.Loader
	log      *telemetry.Logger

	mu     sync.Mutex
	frames map[pipeline.TermID]*pipeline.Frame
	refs   map[pipeline.TermID]int
}

// runLevel computes every node of one level with a bounded worker pool.
// The first error cancels the remaining work and aborts the run.
func (r *run) runLevel(ctx context.Context, level int, nodes []*Node) error {
	workers := r.engine.maxParallel
	if len(nodes) < workers {
		workers = len(nodes)
	}

	queue := make(chan *Node, len(nodes))
	for _, n := range nodes {
		queue <- n
	}
	close(queue)

	levelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(nodes))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range queue {
				if levelCtx.Err() != nil {
					return
				}
				if err := r.computeNode(levelCtx, n); err != nil {
					errChan <- err
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errChan)

	for err := range errChan {
		return fmt.Errorf("level %d: %w", level, err)
	}
	if err := ctx.Err(); err != nil {
		return pipeline.NewRuntimeError("run canceled", err).
			WithCode(pipeline.ErrCodeInternal)
	}
	return nil
}

// computeNode produces the node's frame and stores it in the run cache,
// then drops one reference from each dependency.
func (r *run) computeNode(ctx context.Context, n *Node) error {
	nodeSessions, err := r.cal.WindowBefore(r.start, r.end, n.ExtraRows)
	if err != nil {
		return pipeline.NewRuntimeError(
			"trailing window exceeds available calendar history", err).
			WithCode(pipeline.ErrCodeWindowTooLong).
			WithTerm(n.Term.String()).
			WithDetail("extra_rows", n.ExtraRows)
	}

	timer := telemetry.NewTimer()
	var frame *pipeline.Frame
	if n.IsLeaf() {
		frame, err = r.loader.GetWindow(ctx, n.Term.ColumnName(), nodeSessions, r.assets)
		if err != nil {
			return err
		}
		if err := frame.Validate(); err != nil {
			return pipeline.NewRuntimeError("loader returned a malformed frame", err).
				WithCode(pipeline.ErrCodeLoaderFailure).
				WithTerm(n.Term.String())
		}
		if frame.NumSessions() != len(nodeSessions) || frame.NumAssets() != len(r.assets) {
			return pipeline.NewRuntimeError(
				fmt.Sprintf("loader returned %dx%d frame, expected %dx%d",
					frame.NumSessions(), frame.NumAssets(), len(nodeSessions), len(r.assets)), nil).
				WithCode(pipeline.ErrCodeLoaderFailure).
				WithTerm(n.Term.String())
		}
	} else {
		frame, err = r.computeExpr(ctx, n, nodeSessions)
		if err != nil {
			return err
		}
	}

	if r.engine.metrics != nil {
		r.engine.metrics.RecordTermComputed(n.Term.Kind().String(), timer.Duration())
	}
	r.log.WithField("term", n.Term.String()).
		WithField("rows", frame.NumSessions()).
		Debug("node computed")

	r.mu.Lock()
	r.frames[n.ID] = frame
	r.mu.Unlock()

	r.releaseDeps(n)
	return nil
}

// computeExpr evaluates a computed term session by session over its
// trailing input windows.
func (r *run) computeExpr(ctx context.Context, n *Node, nodeSessions []time.Time) (*pipeline.Frame, error) {
	rows := len(nodeSessions)
	w := n.Window()

	inFrames := make([]*pipeline.Frame, len(n.Inputs))
	offsets := make([]int, len(n.Inputs))
	r.mu.Lock()
	for i, in := range n.Inputs {
		f, ok := r.frames[in.ID]
		if !ok {
			r.mu.Unlock()
			return nil, pipeline.NewRuntimeError(
				fmt.Sprintf("input frame missing for %s", in.Term.String()), nil).
				WithCode(pipeline.ErrCodeInternal).
				WithTerm(n.Term.String())
		}
		inFrames[i] = f
		offsets[i] = f.NumSessions() - rows
	}
	var maskFrame *pipeline.Frame
	maskOff := 0
	if n.Mask != nil {
		f, ok := r.frames[n.Mask.ID]
		if !ok {
			r.mu.Unlock()
			return nil, pipeline.NewRuntimeError(
				fmt.Sprintf("mask frame missing for %s", n.Mask.Term.String()), nil).
				WithCode(pipeline.ErrCodeInternal).
				WithTerm(n.Term.String())
		}
		maskFrame = f
		maskOff = f.NumSessions() - rows
	}
	r.mu.Unlock()

	frame := pipeline.NewFrame(nodeSessions, r.assets)
	comp := n.Term.Computation()
	params := n.Term.Params()
	windows := make([]pipeline.Window, len(inFrames))

	for j := 0; j < rows; j++ {
		if err := ctx.Err(); err != nil {
			return nil, pipeline.NewRuntimeError("run canceled", err).
				WithCode(pipeline.ErrCodeInternal).
				WithTerm(n.Term.String())
		}

		for i, inf := range inFrames {
			endRow := j + offsets[i] + 1
			win := pipeline.Window(inf.Data[endRow-w : endRow])
			if maskFrame != nil {
				win = maskedWindow(win, maskFrame, j+maskOff)
			}
			windows[i] = win
		}

		out := frame.Data[j]
		comp.Compute(nodeSessions[j], r.assets, out, windows, params)

		if maskFrame != nil {
			mrow := maskFrame.Data[j+maskOff]
			for a := range out {
				if mrow[a] != 1 {
					out[a] = pipeline.NaN()
				}
			}
		}
	}
	return frame, nil
}

// maskedWindow copies the window with cells of masked-out asset/session
// pairs set to missing. endRow is the mask frame row aligned with the
// window's newest row; a missing mask value excludes the cell.
func maskedWindow(win pipeline.Window, mask *pipeline.Frame, endRow int) pipeline.Window {
	w := len(win)
	out := make(pipeline.Window, w)
	for k, row := range win {
		mrow := mask.Data[endRow-(w-1)+k]
		copied := append([]float64(nil), row...)
		for a := range copied {
			if mrow[a] != 1 {
				copied[a] = pipeline.NaN()
			}
		}
		out[k] = copied
	}
	return out
}

// releaseDeps drops one reference from each of the node's dependencies and
// evicts frames nobody will read again. Output frames stay resident for
// assembly.
func (r *run) releaseDeps(n *Node) {
	deps := n.Inputs
	if n.Mask != nil {
		deps = append(append([]*Node(nil), deps...), n.Mask)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range deps {
		r.refs[dep.ID]--
		if r.refs[dep.ID] <= 0 && !dep.Output {
			if _, ok := r.frames[dep.ID]; ok {
				delete(r.frames, dep.ID)
				if r.engine.metrics != nil {
					r.engine.metrics.RecordCacheRelease()
				}
			}
		}
	}
}
