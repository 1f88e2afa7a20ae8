package pipeline

import (
	"fmt"
	"math"
	"time"
)

// ewmaWeights returns the weighting vector for an exponential moving
// statistic on length rows with the given decay rate. The oldest row gets
// the smallest weight; rows are discounted by decay_rate per session of age.
func ewmaWeights(length int, decayRate float64) []float64 {
	weights := make([]float64, length)
	for i := range weights {
		weights[i] = math.Pow(decayRate, float64(length-i))
	}
	return weights
}

// weightedMoments returns the weighted mean and weighted variance (with
// reliability bias correction) of the valid observations in series, along
// with the count of valid observations.
func weightedMoments(series, weights []float64) (mean, variance float64, n int) {
	var sumW, sumWV float64
	for i, v := range series {
		if math.IsNaN(v) {
			continue
		}
		sumW += weights[i]
		sumWV += weights[i] * v
		n++
	}
	if n == 0 || sumW == 0 {
		return math.NaN(), math.NaN(), 0
	}
	mean = sumWV / sumW

	var sumWD, sumW2 float64
	for i, v := range series {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		sumWD += weights[i] * d * d
		sumW2 += weights[i] * weights[i]
	}
	sqSumW := sumW * sumW
	if sqSumW == sumW2 {
		return mean, math.NaN(), n
	}
	variance = (sumWD / sumW) * (sqSumW / (sqSumW - sumW2))
	return mean, variance, n
}

// ewmaComputation is the exponentially weighted moving average.
type ewmaComputation struct{}

func (ewmaComputation) Name() string         { return "ewma" }
func (ewmaComputation) Kind() Kind           { return KindFactor }
func (ewmaComputation) InputDTypes() []DType { return []DType{Float64} }
func (ewmaComputation) ParamNames() []string { return []string{"decay_rate"} }

func (ewmaComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, params Params) {
	w := windows[0]
	weights := ewmaWeights(len(w), params.Get("decay_rate"))
	for a := range assets {
		mean, _, n := weightedMoments(column(w, a), weights)
		if n == 0 {
			continue
		}
		out[a] = mean
	}
}

// ewmstdComputation is the exponentially weighted moving standard deviation.
type ewmstdComputation struct{}

func (ewmstdComputation) Name() string         { return "ewmstd" }
func (ewmstdComputation) Kind() Kind           { return KindFactor }
func (ewmstdComputation) InputDTypes() []DType { return []DType{Float64} }
func (ewmstdComputation) ParamNames() []string { return []string{"decay_rate"} }

func (ewmstdComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, params Params) {
	w := windows[0]
	weights := ewmaWeights(len(w), params.Get("decay_rate"))
	for a := range assets {
		_, variance, n := weightedMoments(column(w, a), weights)
		if n < 2 || math.IsNaN(variance) {
			continue
		}
		out[a] = math.Sqrt(variance)
	}
}

func validDecayRate(decayRate float64) error {
	if decayRate <= 0 || decayRate > 1 {
		return NewBuildError(
			fmt.Sprintf("decay_rate must be in (0, 1], got %g", decayRate), nil).
			WithCode(ErrCodeValidation)
	}
	return nil
}

// EWMA creates an exponentially weighted moving average of input over the
// window, discounting past observations by decayRate per session.
func EWMA(input Term, windowLength int, decayRate float64, opts ...Option) (*Expr, error) {
	if err := validDecayRate(decayRate); err != nil {
		return nil, err
	}
	opts = append([]Option{WithParams(Params{"decay_rate": decayRate})}, opts...)
	return NewExpr(ewmaComputation{}, []Term{input}, windowLength, opts...)
}

// EWMSTD creates an exponentially weighted moving standard deviation of
// input over the window.
func EWMSTD(input Term, windowLength int, decayRate float64, opts ...Option) (*Expr, error) {
	if err := validDecayRate(decayRate); err != nil {
		return nil, err
	}
	opts = append([]Option{WithParams(Params{"decay_rate": decayRate})}, opts...)
	return NewExpr(ewmstdComputation{}, []Term{input}, windowLength, opts...)
}

// DecayRateFromSpan converts a span to a decay rate: 1 - 2/(1+span).
// The span must be greater than 1.
func DecayRateFromSpan(span float64) (float64, error) {
	if span <= 1 {
		return 0, NewBuildError(
			fmt.Sprintf("span must be greater than 1, got %g", span), nil).
			WithCode(ErrCodeValidation)
	}
	return 1 - (2 / (1 + span)), nil
}

// DecayRateFromHalflife converts a half life to a decay rate:
// exp(ln(0.5) / halflife). The half life must be positive.
func DecayRateFromHalflife(halflife float64) (float64, error) {
	if halflife <= 0 {
		return 0, NewBuildError(
			fmt.Sprintf("halflife must be positive, got %g", halflife), nil).
			WithCode(ErrCodeValidation)
	}
	return math.Exp(math.Log(0.5) / halflife), nil
}

// DecayRateFromCenterOfMass converts a center of mass to a decay rate:
// 1 - 1/(1+centerOfMass).
func DecayRateFromCenterOfMass(centerOfMass float64) (float64, error) {
	if centerOfMass <= 0 {
		return 0, NewBuildError(
			fmt.Sprintf("center of mass must be positive, got %g", centerOfMass), nil).
			WithCode(ErrCodeValidation)
	}
	return 1 - (1 / (1 + centerOfMass)), nil
}

// EWMAFromSpan creates an EWMA with the decay rate expressed as a span.
func EWMAFromSpan(input Term, windowLength int, span float64, opts ...Option) (*Expr, error) {
	decay, err := DecayRateFromSpan(span)
	if err != nil {
		return nil, err
	}
	return EWMA(input, windowLength, decay, opts...)
}

// EWMAFromHalflife creates an EWMA with the decay rate expressed as a half
// life.
func EWMAFromHalflife(input Term, windowLength int, halflife float64, opts ...Option) (*Expr, error) {
	decay, err := DecayRateFromHalflife(halflife)
	if err != nil {
		return nil, err
	}
	return EWMA(input, windowLength, decay, opts...)
}

// EWMAFromCenterOfMass creates an EWMA with the decay rate expressed as a
// center of mass.
func EWMAFromCenterOfMass(input Term, windowLength int, centerOfMass float64, opts ...Option) (*Expr, error) {
	decay, err := DecayRateFromCenterOfMass(centerOfMass)
	if err != nil {
		return nil, err
	}
	return EWMA(input, windowLength, decay, opts...)
}

// EWMSTDFromSpan creates an EWMSTD with the decay rate expressed as a span.
func EWMSTDFromSpan(input Term, windowLength int, span float64, opts ...Option) (*Expr, error) {
	decay, err := DecayRateFromSpan(span)
	if err != nil {
		return nil, err
	}
	return EWMSTD(input, windowLength, decay, opts...)
}

// EWMSTDFromHalflife creates an EWMSTD with the decay rate expressed as a
// half life.
func EWMSTDFromHalflife(input Term, windowLength int, halflife float64, opts ...Option) (*Expr, error) {
	decay, err := DecayRateFromHalflife(halflife)
	if err != nil {
		return nil, err
	}
	return EWMSTD(input, windowLength, decay, opts...)
}
