package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Term describes a single computation node: what it computes, which terms
// feed it, how much trailing history its compute step consumes, and which
// filter masks it. Implementations must be immutable after construction.
//
// The engine accepts any Term implementation; the package provides Expr for
// computed terms and Column for raw data leaves.
type Term interface {
	// Kind is the category of output the term produces.
	Kind() Kind

	// DType is the logical element type of the term's output.
	DType() DType

	// Inputs is the ordered sequence of terms this term consumes. Empty for
	// raw data leaves.
	Inputs() []Term

	// WindowLength is the number of trailing sessions of each input needed
	// to compute one session of output. 0 or 1 means current session only.
	WindowLength() int

	// Mask is the optional filter excluding asset/session pairs from
	// computation, or nil.
	Mask() Term

	// Params is the immutable parameter record bound at construction.
	Params() Params

	// Computation is the compute definition, or nil for raw data leaves.
	Computation() Computation

	// ColumnName is the raw data column this leaf is bound to, or "" for
	// computed terms.
	ColumnName() string

	// String returns a short human-readable description used in errors.
	String() string
}

// TermID is the content-addressed structural identity of a term. Two terms
// with equal IDs describe the same computation and are represented, and
// evaluated, as one graph node.
type TermID string

// Identity computes the structural identity of a term: a sha256 digest over
// the canonical encoding of (kind, computation name, input identities,
// window length, mask identity, sorted params). The term graph must be
// acyclic; the graph builder verifies acyclicity before calling Identity.
func Identity(t Term) TermID {
	return identity(t, make(map[Term]TermID))
}

func identity(t Term, memo map[Term]TermID) TermID {
	if id, ok := memo[t]; ok {
		return id
	}

	var sb strings.Builder
	if name := t.ColumnName(); name != "" {
		sb.WriteString("col|")
		sb.WriteString(name)
	} else {
		sb.WriteString(t.Computation().Name())
		sb.WriteString("|")
		sb.WriteString(t.Kind().String())
		sb.WriteString("|w=")
		sb.WriteString(strconv.Itoa(t.WindowLength()))
		sb.WriteString("|in=")
		for _, in := range t.Inputs() {
			sb.WriteString(string(identity(in, memo)))
			sb.WriteString(",")
		}
		sb.WriteString("|mask=")
		if m := t.Mask(); m != nil {
			sb.WriteString(string(identity(m, memo)))
		}
		sb.WriteString("|params=")
		params := t.Params()
		for _, name := range params.sortedNames() {
			sb.WriteString(name)
			sb.WriteString("=")
			sb.WriteString(strconv.FormatFloat(params[name], 'g', -1, 64))
			sb.WriteString(",")
		}
	}

	sum := sha256.Sum256([]byte(sb.String()))
	id := TermID(hex.EncodeToString(sum[:]))
	memo[t] = id
	return id
}

// Column is a raw data leaf: per-asset, per-session values supplied by the
// Loader rather than computed from other terms.
type Column struct {
	name string
}

// NewColumn creates a leaf term bound to the named raw data column.
func NewColumn(name string) *Column {
	return &Column{name: name}
}

// The standard daily pricing columns.
var (
	Open   = NewColumn("open")
	High   = NewColumn("high")
	Low    = NewColumn("low")
	Close  = NewColumn("close")
	Volume = NewColumn("volume")
)

// Kind implements Term. Raw columns are numeric.
func (c *Column) Kind() Kind { return KindFactor }

// DType implements Term.
func (c *Column) DType() DType { return Float64 }

// Inputs implements Term. Columns have no term inputs.
func (c *Column) Inputs() []Term { return nil }

// WindowLength implements Term. Columns are current-session values.
func (c *Column) WindowLength() int { return 1 }

// Mask implements Term. Columns carry no mask.
func (c *Column) Mask() Term { return nil }

// Params implements Term.
func (c *Column) Params() Params { return nil }

// Computation implements Term. Columns have no compute step.
func (c *Column) Computation() Computation { return nil }

// ColumnName implements Term.
func (c *Column) ColumnName() string { return c.name }

// String implements Term.
func (c *Column) String() string { return c.name }

// Expr is a computed term: a Computation bound to concrete inputs, a window
// length, an optional mask, and a parameter record. Exprs are immutable
// value objects; use NewExpr to construct one.
type Expr struct {
	comp   Computation
	inputs []Term
	window int
	mask   Term
	params Params
}

// Option configures optional Expr fields at construction.
type Option func(*Expr)

// WithMask attaches a filter mask to the term. Asset/session pairs failing
// the mask are excluded from computation and their output is missing.
func WithMask(mask Term) Option {
	return func(e *Expr) { e.mask = mask }
}

// WithParams binds named scalar parameters to the term. The names must
// exactly match the computation's declared parameter names.
func WithParams(params Params) Option {
	return func(e *Expr) { e.params = params.clone() }
}

// NewExpr constructs a computed term and validates it: the window length
// must be non-negative, the inputs' dtypes must match the computation's
// declared input dtypes, the mask (if any) must be a filter, and the bound
// parameters must match the declared names exactly.
func NewExpr(comp Computation, inputs []Term, windowLength int, opts ...Option) (*Expr, error) {
	if comp == nil {
		return nil, NewBuildError("computation must not be nil", nil).
			WithCode(ErrCodeValidation)
	}

	e := &Expr{
		comp:   comp,
		inputs: append([]Term(nil), inputs...),
		window: windowLength,
	}
	for _, opt := range opts {
		opt(e)
	}

	if windowLength < 0 {
		return nil, NewBuildError(
			fmt.Sprintf("window length must be non-negative, got %d", windowLength), nil).
			WithCode(ErrCodeInvalidWindow).
			WithTerm(comp.Name())
	}

	declared := comp.InputDTypes()
	if len(inputs) != len(declared) {
		return nil, NewBuildError(
			fmt.Sprintf("%s expects %d inputs, got %d", comp.Name(), len(declared), len(inputs)), nil).
			WithCode(ErrCodeValidation).
			WithTerm(comp.Name())
	}
	for i, in := range inputs {
		if in == nil {
			return nil, NewBuildError(
				fmt.Sprintf("input %d of %s is nil", i, comp.Name()), nil).
				WithCode(ErrCodeValidation).
				WithTerm(comp.Name())
		}
		if in.DType() != declared[i] {
			return nil, NewBuildError(
				fmt.Sprintf("input %d of %s has dtype %s, expected %s",
					i, comp.Name(), in.DType(), declared[i]), nil).
				WithCode(ErrCodeUnsupportedDType).
				WithTerm(comp.Name()).
				WithDetail("input", in.String())
		}
	}

	if e.mask != nil && e.mask.Kind() != KindFilter {
		return nil, NewBuildError(
			fmt.Sprintf("mask of %s must be a filter, got %s", comp.Name(), e.mask.Kind()), nil).
			WithCode(ErrCodeUnsupportedDType).
			WithTerm(comp.Name())
	}

	if err := validateParams(comp, e.params); err != nil {
		return nil, err
	}

	return e, nil
}

func validateParams(comp Computation, bound Params) error {
	declared := comp.ParamNames()
	if len(bound) != len(declared) {
		return NewBuildError(
			fmt.Sprintf("%s declares %d params, %d bound", comp.Name(), len(declared), len(bound)), nil).
			WithCode(ErrCodeValidation).
			WithTerm(comp.Name())
	}
	for _, name := range declared {
		if _, ok := bound[name]; !ok {
			return NewBuildError(
				fmt.Sprintf("%s requires param %q", comp.Name(), name), nil).
				WithCode(ErrCodeValidation).
				WithTerm(comp.Name())
		}
	}
	return nil
}

// Kind implements Term.
func (e *Expr) Kind() Kind { return e.comp.Kind() }

// DType implements Term.
func (e *Expr) DType() DType { return e.comp.Kind().DType() }

// Inputs implements Term.
func (e *Expr) Inputs() []Term { return e.inputs }

// WindowLength implements Term.
func (e *Expr) WindowLength() int { return e.window }

// Mask implements Term.
func (e *Expr) Mask() Term { return e.mask }

// Params implements Term.
func (e *Expr) Params() Params { return e.params }

// Computation implements Term.
func (e *Expr) Computation() Computation { return e.comp }

// ColumnName implements Term.
func (e *Expr) ColumnName() string { return "" }

// String implements Term.
func (e *Expr) String() string {
	names := make([]string, len(e.inputs))
	for i, in := range e.inputs {
		names[i] = in.String()
	}
	return fmt.Sprintf("%s(%s, window=%d)", e.comp.Name(), strings.Join(names, ", "), e.window)
}
