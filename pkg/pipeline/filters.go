package pipeline

import (
	"math"
	"time"
)

type thresholdOp string

const (
	opGT thresholdOp = "gt"
	opGE thresholdOp = "ge"
	opLT thresholdOp = "lt"
	opLE thresholdOp = "le"
)

// thresholdComputation compares the current value of a numeric input
// against a fixed threshold. A missing input yields a missing filter value,
// which downstream masking treats as failing.
type thresholdComputation struct {
	op thresholdOp
}

func (t thresholdComputation) Name() string         { return string(t.op) }
func (thresholdComputation) Kind() Kind             { return KindFilter }
func (thresholdComputation) InputDTypes() []DType   { return []DType{Float64} }
func (thresholdComputation) ParamNames() []string   { return []string{"value"} }

func (t thresholdComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, params Params) {
	threshold := params.Get("value")
	last := windows[0][len(windows[0])-1]
	for a, v := range last {
		if math.IsNaN(v) {
			continue
		}
		var pass bool
		switch t.op {
		case opGT:
			pass = v > threshold
		case opGE:
			pass = v >= threshold
		case opLT:
			pass = v < threshold
		case opLE:
			pass = v <= threshold
		}
		if pass {
			out[a] = 1
		} else {
			out[a] = 0
		}
	}
}

func newThreshold(op thresholdOp, input Term, value float64, opts ...Option) (*Expr, error) {
	opts = append([]Option{WithParams(Params{"value": value})}, opts...)
	return NewExpr(thresholdComputation{op: op}, []Term{input}, 1, opts...)
}

// GreaterThan creates a filter passing assets whose current input value is
// strictly greater than value.
func GreaterThan(input Term, value float64, opts ...Option) (*Expr, error) {
	return newThreshold(opGT, input, value, opts...)
}

// AtLeast creates a filter passing assets whose current input value is
// greater than or equal to value.
func AtLeast(input Term, value float64, opts ...Option) (*Expr, error) {
	return newThreshold(opGE, input, value, opts...)
}

// LessThan creates a filter passing assets whose current input value is
// strictly less than value.
func LessThan(input Term, value float64, opts ...Option) (*Expr, error) {
	return newThreshold(opLT, input, value, opts...)
}

// AtMost creates a filter passing assets whose current input value is less
// than or equal to value.
func AtMost(input Term, value float64, opts ...Option) (*Expr, error) {
	return newThreshold(opLE, input, value, opts...)
}

// notMissingComputation passes assets whose current input value is present.
// Its own output is never missing.
type notMissingComputation struct{}

func (notMissingComputation) Name() string         { return "not_missing" }
func (notMissingComputation) Kind() Kind           { return KindFilter }
func (notMissingComputation) InputDTypes() []DType { return []DType{Float64} }
func (notMissingComputation) ParamNames() []string { return nil }

func (notMissingComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	last := windows[0][len(windows[0])-1]
	for a, v := range last {
		if math.IsNaN(v) {
			out[a] = 0
		} else {
			out[a] = 1
		}
	}
}

// NotMissing creates a filter passing assets with a present current value
// of input.
func NotMissing(input Term, opts ...Option) (*Expr, error) {
	return NewExpr(notMissingComputation{}, []Term{input}, 1, opts...)
}
