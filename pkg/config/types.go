package config

import (
	"time"
)

// Document is the top-level pipeline definition file.
type Document struct {
	// Pipeline is the pipeline definition.
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline" validate:"required"`
}

// PipelineConfig defines a named pipeline: its output terms, optional
// intermediate terms, and an optional screen.
type PipelineConfig struct {
	// Name is the pipeline name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Terms are named intermediate terms that outputs, masks, and the
	// screen may reference.
	Terms map[string]TermSpec `yaml:"terms,omitempty" json:"terms,omitempty" validate:"omitempty,dive"`

	// Outputs are the named output terms of the pipeline.
	Outputs map[string]TermSpec `yaml:"outputs" json:"outputs" validate:"required,min=1,dive"`

	// Screen names the term used to filter result rows. It must resolve
	// to a filter.
	Screen string `yaml:"screen,omitempty" json:"screen,omitempty"`
}

// TermSpec declares one term of the pipeline. Input and Inputs reference
// either a named term or a raw pricing column (open, high, low, close,
// volume).
type TermSpec struct {
	// Fn selects the computation: latest, returns, sma, wav, vwap, rsi,
	// max_drawdown, stddev, correlation, ewma, ewmstd, gt, ge, lt, le,
	// not_missing, quantiles, or starlark.
	Fn string `yaml:"fn" json:"fn" validate:"required"`

	// Input is the single input term or column for unary computations.
	Input string `yaml:"input,omitempty" json:"input,omitempty"`

	// Inputs are the input terms or columns for computations taking more
	// than one input (wav, correlation, starlark).
	Inputs []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Window is the trailing window length in sessions.
	Window int `yaml:"window,omitempty" json:"window,omitempty" validate:"gte=0"`

	// Params are the named scalar parameters of the computation, e.g.
	// value for thresholds, bins for quantiles, decay_rate (or span,
	// halflife, center_of_mass) for the exponential family.
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`

	// Mask names a filter term restricting which assets the computation
	// sees.
	Mask string `yaml:"mask,omitempty" json:"mask,omitempty"`

	// Script is the Starlark source for fn: starlark.
	Script string `yaml:"script,omitempty" json:"script,omitempty"`
}

// ValidationError is a document problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Path is the document path to the error (e.g., "pipeline.outputs.sma").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// ParseResult is the outcome of parsing a pipeline document.
type ParseResult struct {
	// Document is the decoded document, nil when parsing failed outright.
	Document *Document `json:"document,omitempty"`

	// SourceFile is the file the document came from, if any.
	SourceFile string `json:"source_file,omitempty"`

	// ParsedAt is when the document was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
