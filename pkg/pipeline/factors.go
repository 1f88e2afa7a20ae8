package pipeline

import (
	"math"
	"time"
)

// builtinComputations lists every compute definition shipped with the
// package, for registry preloading.
func builtinComputations() []Computation {
	return []Computation{
		latestComputation{},
		returnsComputation{},
		smaComputation{},
		wavComputation{},
		rsiComputation{},
		maxDrawdownComputation{},
		stdDevComputation{},
		correlationComputation{},
		ewmaComputation{},
		ewmstdComputation{},
		thresholdComputation{op: opGT},
		thresholdComputation{op: opGE},
		thresholdComputation{op: opLT},
		thresholdComputation{op: opLE},
		notMissingComputation{},
		quantilesComputation{},
	}
}

// latestComputation emits the most recent value of its input.
type latestComputation struct{}

func (latestComputation) Name() string         { return "latest" }
func (latestComputation) Kind() Kind           { return KindFactor }
func (latestComputation) InputDTypes() []DType { return []DType{Float64} }
func (latestComputation) ParamNames() []string { return nil }

func (latestComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	last := windows[0][len(windows[0])-1]
	copy(out, last)
}

// Latest returns a factor emitting the current-session value of input.
func Latest(input Term, opts ...Option) (*Expr, error) {
	return NewExpr(latestComputation{}, []Term{input}, 1, opts...)
}

// returnsComputation computes the percent change of its input over the
// window: (last - first) / first.
type returnsComputation struct{}

func (returnsComputation) Name() string         { return "returns" }
func (returnsComputation) Kind() Kind           { return KindFactor }
func (returnsComputation) InputDTypes() []DType { return []DType{Float64} }
func (returnsComputation) ParamNames() []string { return nil }

func (returnsComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	w := windows[0]
	first, last := w[0], w[len(w)-1]
	for a := range assets {
		f, l := first[a], last[a]
		if math.IsNaN(f) || math.IsNaN(l) || f == 0 {
			continue
		}
		out[a] = (l - f) / f
	}
}

// Returns creates a factor computing the percent change in close price over
// the given window length.
func Returns(windowLength int, opts ...Option) (*Expr, error) {
	return ReturnsOf(Close, windowLength, opts...)
}

// ReturnsOf creates a factor computing the percent change of an arbitrary
// numeric input over the given window length.
func ReturnsOf(input Term, windowLength int, opts ...Option) (*Expr, error) {
	return NewExpr(returnsComputation{}, []Term{input}, windowLength, opts...)
}

// smaComputation averages the valid observations in the trailing window.
type smaComputation struct{}

func (smaComputation) Name() string         { return "sma" }
func (smaComputation) Kind() Kind           { return KindFactor }
func (smaComputation) InputDTypes() []DType { return []DType{Float64} }
func (smaComputation) ParamNames() []string { return nil }

func (smaComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	for a := range assets {
		out[a] = nanMean(column(windows[0], a))
	}
}

// SMA creates a simple moving average of an arbitrary numeric input.
func SMA(input Term, windowLength int, opts ...Option) (*Expr, error) {
	return NewExpr(smaComputation{}, []Term{input}, windowLength, opts...)
}

// wavComputation computes sum(base*weight) / sum(weight) over the window,
// skipping sessions where either side is missing.
type wavComputation struct{}

func (wavComputation) Name() string         { return "wav" }
func (wavComputation) Kind() Kind           { return KindFactor }
func (wavComputation) InputDTypes() []DType { return []DType{Float64, Float64} }
func (wavComputation) ParamNames() []string { return nil }

func (wavComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	base, weight := windows[0], windows[1]
	for a := range assets {
		num, den := 0.0, 0.0
		valid := false
		for i := range base {
			b, w := base[i][a], weight[i][a]
			if math.IsNaN(b) || math.IsNaN(w) {
				continue
			}
			num += b * w
			den += w
			valid = true
		}
		if !valid || den == 0 {
			continue
		}
		out[a] = num / den
	}
}

// WeightedAverageValue creates a weighted average of base over the window,
// weighted by weight.
func WeightedAverageValue(base, weight Term, windowLength int, opts ...Option) (*Expr, error) {
	return NewExpr(wavComputation{}, []Term{base, weight}, windowLength, opts...)
}

// VWAP creates a volume-weighted average close price over the window.
func VWAP(windowLength int, opts ...Option) (*Expr, error) {
	return WeightedAverageValue(Close, Volume, windowLength, opts...)
}

// rsiComputation computes the relative strength index from session-over-
// session differences of its input.
type rsiComputation struct{}

func (rsiComputation) Name() string         { return "rsi" }
func (rsiComputation) Kind() Kind           { return KindFactor }
func (rsiComputation) InputDTypes() []DType { return []DType{Float64} }
func (rsiComputation) ParamNames() []string { return nil }

func (rsiComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	w := windows[0]
	for a := range assets {
		series := column(w, a)
		upSum, downSum, n := 0.0, 0.0, 0
		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1], series[i]
			if math.IsNaN(prev) || math.IsNaN(cur) {
				continue
			}
			d := cur - prev
			if d > 0 {
				upSum += d
			} else {
				downSum += -d
			}
			n++
		}
		if n == 0 {
			continue
		}
		ups := upSum / float64(n)
		downs := downSum / float64(n)
		switch {
		case ups == 0 && downs == 0:
			// Flat series has no relative strength.
		case downs == 0:
			out[a] = 100
		default:
			out[a] = 100 - (100 / (1 + ups/downs))
		}
	}
}

// DefaultRSIWindow is the conventional RSI lookback.
const DefaultRSIWindow = 15

// RSI creates a relative strength index factor over close prices.
func RSI(windowLength int, opts ...Option) (*Expr, error) {
	return NewExpr(rsiComputation{}, []Term{Close}, windowLength, opts...)
}

// maxDrawdownComputation computes the largest peak-to-trough decline within
// the window, as a fraction of the trough value.
type maxDrawdownComputation struct{}

func (maxDrawdownComputation) Name() string         { return "max_drawdown" }
func (maxDrawdownComputation) Kind() Kind           { return KindFactor }
func (maxDrawdownComputation) InputDTypes() []DType { return []DType{Float64} }
func (maxDrawdownComputation) ParamNames() []string { return nil }

func (maxDrawdownComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	w := windows[0]
	for a := range assets {
		series := column(w, a)

		runningMax := math.Inf(-1)
		bestDrawdown := math.Inf(-1)
		end := -1
		for i, v := range series {
			if math.IsNaN(v) {
				continue
			}
			if v > runningMax {
				runningMax = v
			}
			if dd := runningMax - v; dd > bestDrawdown {
				bestDrawdown = dd
				end = i
			}
		}
		if end < 0 {
			continue
		}

		peak := math.Inf(-1)
		for _, v := range series[:end+1] {
			if !math.IsNaN(v) && v > peak {
				peak = v
			}
		}
		if trough := series[end]; trough != 0 {
			out[a] = (peak - trough) / trough
		}
	}
}

// MaxDrawdown creates a factor computing the maximum drawdown of input over
// the window.
func MaxDrawdown(input Term, windowLength int, opts ...Option) (*Expr, error) {
	return NewExpr(maxDrawdownComputation{}, []Term{input}, windowLength, opts...)
}

// stdDevComputation computes the sample standard deviation of the valid
// observations in the window.
type stdDevComputation struct{}

func (stdDevComputation) Name() string         { return "stddev" }
func (stdDevComputation) Kind() Kind           { return KindFactor }
func (stdDevComputation) InputDTypes() []DType { return []DType{Float64} }
func (stdDevComputation) ParamNames() []string { return nil }

func (stdDevComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	for a := range assets {
		series := column(windows[0], a)
		mean := nanMean(series)
		if math.IsNaN(mean) {
			continue
		}
		sumsq, n := 0.0, 0
		for _, v := range series {
			if math.IsNaN(v) {
				continue
			}
			sumsq += (v - mean) * (v - mean)
			n++
		}
		if n < 2 {
			continue
		}
		out[a] = math.Sqrt(sumsq / float64(n-1))
	}
}

// StdDev creates a rolling sample standard deviation factor.
func StdDev(input Term, windowLength int, opts ...Option) (*Expr, error) {
	return NewExpr(stdDevComputation{}, []Term{input}, windowLength, opts...)
}

// correlationComputation computes the Pearson correlation of two inputs
// over the window. Degenerate inputs (fewer than two paired observations,
// or zero variance on either side) resolve to missing rather than failing.
type correlationComputation struct{}

func (correlationComputation) Name() string         { return "correlation" }
func (correlationComputation) Kind() Kind           { return KindFactor }
func (correlationComputation) InputDTypes() []DType { return []DType{Float64, Float64} }
func (correlationComputation) ParamNames() []string { return nil }

func (correlationComputation) Compute(_ time.Time, assets []string, out []float64, windows []Window, _ Params) {
	x, y := windows[0], windows[1]
	for a := range assets {
		var xs, ys []float64
		for i := range x {
			xv, yv := x[i][a], y[i][a]
			if math.IsNaN(xv) || math.IsNaN(yv) {
				continue
			}
			xs = append(xs, xv)
			ys = append(ys, yv)
		}
		if len(xs) < 2 {
			continue
		}

		mx, my := nanMean(xs), nanMean(ys)
		var sxy, sxx, syy float64
		for i := range xs {
			dx, dy := xs[i]-mx, ys[i]-my
			sxy += dx * dy
			sxx += dx * dx
			syy += dy * dy
		}
		if sxx == 0 || syy == 0 {
			continue
		}
		out[a] = sxy / math.Sqrt(sxx*syy)
	}
}

// Correlation creates a rolling Pearson correlation factor between two
// numeric inputs.
func Correlation(x, y Term, windowLength int, opts ...Option) (*Expr, error) {
	return NewExpr(correlationComputation{}, []Term{x, y}, windowLength, opts...)
}
