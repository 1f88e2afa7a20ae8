package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/alphapipe/alphapipe/pkg/engine"
	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// Parser parses, validates, and builds pipeline definition documents.
type Parser struct {
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate
}

// NewParser creates a new pipeline document parser.
func NewParser() *Parser {
	return &Parser{
		schemaRegistry:    NewSchemaRegistry(),
		starlarkEvaluator: NewStarlarkEvaluator(30 * time.Second),
		validator:         validator.New(),
	}
}

// columns are the raw pricing columns a term reference may name directly.
var columns = map[string]pipeline.Term{
	"open":   pipeline.Open,
	"high":   pipeline.High,
	"low":    pipeline.Low,
	"close":  pipeline.Close,
	"volume": pipeline.Volume,
}

// ParseFile parses and validates a pipeline document from a file.
func (p *Parser) ParseFile(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	result, err := p.Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	result.SourceFile = path
	for i := range result.Errors {
		if result.Errors[i].File == "" {
			result.Errors[i].File = path
		}
	}
	return result, nil
}

// Parse decodes a YAML pipeline document and validates it against struct
// tags and the registered document schema. Validation problems are
// collected in the result rather than failing the parse.
func (p *Parser) Parse(ctx context.Context, data []byte) (*ParseResult, error) {
	result := &ParseResult{ParsedAt: time.Now()}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		msg := err.Error()
		if errors.Is(err, io.EOF) {
			msg = "empty document"
		}
		result.Errors = append(result.Errors, ValidationError{
			Message:  msg,
			Severity: "error",
		})
		return result, nil
	}
	result.Document = &doc

	if err := p.validator.Struct(doc); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Path:     "pipeline",
			Message:  err.Error(),
			Severity: "error",
		})
		return result, nil
	}

	if err := p.schemaRegistry.ValidatePipeline(ctx, doc.Pipeline); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Path:     "pipeline",
			Message:  err.Error(),
			Severity: "error",
		})
	}

	result.Errors = append(result.Errors, p.checkScripts(ctx, &doc.Pipeline)...)

	return result, nil
}

// checkScripts dry-runs every embedded Starlark script under the
// evaluator's timeout so syntax errors and runaway top-level code are
// reported at parse time rather than mid-run.
func (p *Parser) checkScripts(ctx context.Context, cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	check := func(path string, spec TermSpec) {
		if spec.Fn != "starlark" || spec.Script == "" {
			return
		}
		if _, err := p.starlarkEvaluator.Evaluate(ctx, spec.Script, nil); err != nil {
			errs = append(errs, ValidationError{
				Path:     path,
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}
	for name, spec := range cfg.Terms {
		check("pipeline.terms."+name, spec)
	}
	for name, spec := range cfg.Outputs {
		check("pipeline.outputs."+name, spec)
	}
	return errs
}

// Build constructs the pipeline a validated document describes. Term
// references are resolved against the document's named terms first, then
// against the raw pricing columns.
func (p *Parser) Build(doc *Document) (*engine.Pipeline, error) {
	if doc == nil {
		return nil, fmt.Errorf("no document to build")
	}
	cfg := &doc.Pipeline

	b := &builder{
		cfg:      cfg,
		built:    make(map[string]pipeline.Term),
		building: make(map[string]bool),
	}

	pl := engine.NewPipeline()

	names := make([]string, 0, len(cfg.Outputs))
	for name := range cfg.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := cfg.Outputs[name]
		term, err := b.buildSpec(name, spec)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		if err := pl.Add(name, term); err != nil {
			return nil, err
		}
	}

	if cfg.Screen != "" {
		screen, err := b.resolve(cfg.Screen)
		if err != nil {
			return nil, fmt.Errorf("screen: %w", err)
		}
		if err := pl.SetScreen(screen); err != nil {
			return nil, err
		}
	}

	return pl, nil
}

// Load parses, validates, and builds a pipeline from a file in one step.
func (p *Parser) Load(ctx context.Context, path string) (*engine.Pipeline, *Document, error) {
	result, err := p.ParseFile(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if len(result.Errors) > 0 {
		return nil, result.Document, fmt.Errorf("invalid document: %s", result.Errors[0].Message)
	}
	pl, err := p.Build(result.Document)
	if err != nil {
		return nil, result.Document, err
	}
	return pl, result.Document, nil
}

// GetSchemaRegistry returns the schema registry.
func (p *Parser) GetSchemaRegistry() *SchemaRegistry {
	return p.schemaRegistry
}

// builder resolves term references and constructs terms, memoizing named
// terms so a name used twice yields the same Term value.
type builder struct {
	cfg      *PipelineConfig
	built    map[string]pipeline.Term
	building map[string]bool
}

func (b *builder) resolve(ref string) (pipeline.Term, error) {
	if term, ok := b.built[ref]; ok {
		return term, nil
	}
	if spec, ok := b.cfg.Terms[ref]; ok {
		if b.building[ref] {
			return nil, fmt.Errorf("term %s references itself (directly or via another term)", ref)
		}
		b.building[ref] = true
		term, err := b.buildSpec(ref, spec)
		delete(b.building, ref)
		if err != nil {
			return nil, fmt.Errorf("term %s: %w", ref, err)
		}
		b.built[ref] = term
		return term, nil
	}
	if col, ok := columns[ref]; ok {
		return col, nil
	}
	return nil, fmt.Errorf("unknown term or column %q", ref)
}

func (b *builder) inputs(spec TermSpec, want int) ([]pipeline.Term, error) {
	refs := spec.Inputs
	if spec.Input != "" {
		if len(refs) > 0 {
			return nil, fmt.Errorf("input and inputs are mutually exclusive")
		}
		refs = []string{spec.Input}
	}
	if len(refs) != want {
		return nil, fmt.Errorf("%s expects %d input(s), got %d", spec.Fn, want, len(refs))
	}
	terms := make([]pipeline.Term, len(refs))
	for i, ref := range refs {
		term, err := b.resolve(ref)
		if err != nil {
			return nil, err
		}
		terms[i] = term
	}
	return terms, nil
}

func (b *builder) options(spec TermSpec) ([]pipeline.Option, error) {
	if spec.Mask == "" {
		return nil, nil
	}
	mask, err := b.resolve(spec.Mask)
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	return []pipeline.Option{pipeline.WithMask(mask)}, nil
}

func requireParam(spec TermSpec, name string) (float64, error) {
	v, ok := spec.Params[name]
	if !ok {
		return 0, fmt.Errorf("%s requires param %q", spec.Fn, name)
	}
	return v, nil
}

// decayRate resolves the exponential family's decay parameterization:
// exactly one of decay_rate, span, halflife, or center_of_mass.
func decayRate(spec TermSpec) (float64, error) {
	keys := []string{}
	for _, k := range []string{"decay_rate", "span", "halflife", "center_of_mass"} {
		if _, ok := spec.Params[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) != 1 {
		return 0, fmt.Errorf("%s requires exactly one of decay_rate, span, halflife, or center_of_mass", spec.Fn)
	}
	v := spec.Params[keys[0]]
	switch keys[0] {
	case "decay_rate":
		return v, nil
	case "span":
		return pipeline.DecayRateFromSpan(v)
	case "halflife":
		return pipeline.DecayRateFromHalflife(v)
	default:
		return pipeline.DecayRateFromCenterOfMass(v)
	}
}

func (b *builder) buildSpec(name string, spec TermSpec) (pipeline.Term, error) {
	opts, err := b.options(spec)
	if err != nil {
		return nil, err
	}

	unary := func() (pipeline.Term, error) {
		ins, err := b.inputs(spec, 1)
		if err != nil {
			return nil, err
		}
		return ins[0], nil
	}

	switch spec.Fn {
	case "latest":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		return pipeline.Latest(in, opts...)

	case "returns":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		return pipeline.ReturnsOf(in, spec.Window, opts...)

	case "sma":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		return pipeline.SMA(in, spec.Window, opts...)

	case "stddev":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		return pipeline.StdDev(in, spec.Window, opts...)

	case "max_drawdown":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		return pipeline.MaxDrawdown(in, spec.Window, opts...)

	case "rsi":
		if spec.Input != "" || len(spec.Inputs) > 0 {
			return nil, fmt.Errorf("rsi always reads close and takes no inputs")
		}
		return pipeline.RSI(spec.Window, opts...)

	case "vwap":
		if spec.Input != "" || len(spec.Inputs) > 0 {
			return nil, fmt.Errorf("vwap always reads close and volume and takes no inputs")
		}
		return pipeline.VWAP(spec.Window, opts...)

	case "wav":
		ins, err := b.inputs(spec, 2)
		if err != nil {
			return nil, err
		}
		return pipeline.WeightedAverageValue(ins[0], ins[1], spec.Window, opts...)

	case "correlation":
		ins, err := b.inputs(spec, 2)
		if err != nil {
			return nil, err
		}
		return pipeline.Correlation(ins[0], ins[1], spec.Window, opts...)

	case "ewma":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		decay, err := decayRate(spec)
		if err != nil {
			return nil, err
		}
		return pipeline.EWMA(in, spec.Window, decay, opts...)

	case "ewmstd":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		decay, err := decayRate(spec)
		if err != nil {
			return nil, err
		}
		return pipeline.EWMSTD(in, spec.Window, decay, opts...)

	case "gt", "ge", "lt", "le":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		value, err := requireParam(spec, "value")
		if err != nil {
			return nil, err
		}
		switch spec.Fn {
		case "gt":
			return pipeline.GreaterThan(in, value, opts...)
		case "ge":
			return pipeline.AtLeast(in, value, opts...)
		case "lt":
			return pipeline.LessThan(in, value, opts...)
		default:
			return pipeline.AtMost(in, value, opts...)
		}

	case "not_missing":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		return pipeline.NotMissing(in, opts...)

	case "quantiles":
		in, err := unary()
		if err != nil {
			return nil, err
		}
		bins, err := requireParam(spec, "bins")
		if err != nil {
			return nil, err
		}
		return pipeline.Quantiles(in, int(bins), opts...)

	case "starlark":
		if spec.Script == "" {
			return nil, fmt.Errorf("starlark terms require a script")
		}
		refs := spec.Inputs
		if spec.Input != "" {
			refs = []string{spec.Input}
		}
		if len(refs) == 0 {
			return nil, fmt.Errorf("starlark terms require at least one input")
		}
		ins := make([]pipeline.Term, len(refs))
		for i, ref := range refs {
			term, err := b.resolve(ref)
			if err != nil {
				return nil, err
			}
			ins[i] = term
		}
		return NewStarlarkFactor(name, spec.Script, ins, spec.Window, opts...)

	default:
		return nil, fmt.Errorf("unknown computation %q", spec.Fn)
	}
}
