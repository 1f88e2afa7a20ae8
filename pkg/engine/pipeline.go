package engine

import (
	"fmt"

	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// Pipeline is a declarative bundle of named output terms plus an optional
// screen filter. Defining a pipeline performs no computation; Engine.Run
// compiles and evaluates it over a concrete date range and asset universe.
type Pipeline struct {
	outputs map[string]pipeline.Term
	screen  pipeline.Term
}

// NewPipeline creates an empty pipeline definition.
func NewPipeline() *Pipeline {
	return &Pipeline{outputs: make(map[string]pipeline.Term)}
}

// Add registers a named output term. Reusing a name is a build error.
func (p *Pipeline) Add(name string, t pipeline.Term) error {
	if name == "" {
		return pipeline.NewBuildError("output name must not be empty", nil).
			WithCode(pipeline.ErrCodeValidation)
	}
	if t == nil {
		return pipeline.NewBuildError(fmt.Sprintf("output %q is nil", name), nil).
			WithCode(pipeline.ErrCodeValidation)
	}
	if _, exists := p.outputs[name]; exists {
		return pipeline.NewBuildError(fmt.Sprintf("output %q already defined", name), nil).
			WithCode(pipeline.ErrCodeDuplicateOutput).
			WithTerm(t.String())
	}
	p.outputs[name] = t
	return nil
}

// SetScreen attaches the screen filter. Rows failing the screen are
// excluded from the assembled result. The screen must be a filter term.
func (p *Pipeline) SetScreen(t pipeline.Term) error {
	if t != nil && t.Kind() != pipeline.KindFilter {
		return pipeline.NewBuildError(
			fmt.Sprintf("screen must be a filter, got %s", t.Kind()), nil).
			WithCode(pipeline.ErrCodeUnsupportedDType).
			WithTerm(t.String())
	}
	p.screen = t
	return nil
}

// Outputs returns the named output terms.
func (p *Pipeline) Outputs() map[string]pipeline.Term { return p.outputs }

// Screen returns the screen filter, or nil.
func (p *Pipeline) Screen() pipeline.Term { return p.screen }

// Graph compiles the pipeline into an execution graph without running it.
func (p *Pipeline) Graph() (*Graph, error) {
	return BuildGraph(p.outputs, p.screen)
}
