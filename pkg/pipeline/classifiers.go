package pipeline

import (
	"math"
	"sort"
	"time"
)

// quantilesComputation labels each asset with its cross-sectional quantile
// bucket for the current session: 0 for the lowest values through bins-1
// for the highest. Assets with a missing input value stay missing.
type quantilesComputation struct{}

func (quantilesComputation) Name() string         { return "quantiles" }
func (quantilesComputation) Kind() Kind           { return KindClassifier }
func (quantilesComputation) InputDTypes() []DType { return []DType{Float64} }
func (quantilesComputation) ParamNames() []string { return []string{"bins"} }

func (quantilesComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, params Params) {
	bins := int(params.Get("bins"))
	if bins < 1 {
		return
	}
	last := windows[0][len(windows[0])-1]

	type ranked struct {
		asset int
		value float64
	}
	valid := make([]ranked, 0, len(last))
	for a, v := range last {
		if math.IsNaN(v) {
			continue
		}
		valid = append(valid, ranked{asset: a, value: v})
	}
	if len(valid) == 0 {
		return
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].value < valid[j].value })

	n := len(valid)
	for rank, r := range valid {
		label := rank * bins / n
		if label > bins-1 {
			label = bins - 1
		}
		out[r.asset] = float64(label)
	}
}

// Quantiles creates a classifier labelling each asset with its
// cross-sectional quantile bucket (0..bins-1) of the current value of
// input.
func Quantiles(input Term, bins int, opts ...Option) (*Expr, error) {
	if bins < 1 {
		return nil, NewBuildError("quantiles requires at least one bin", nil).
			WithCode(ErrCodeValidation)
	}
	opts = append([]Option{WithParams(Params{"bins": float64(bins)})}, opts...)
	return NewExpr(quantilesComputation{}, []Term{input}, 1, opts...)
}
