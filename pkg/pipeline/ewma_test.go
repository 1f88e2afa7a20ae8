package pipeline

import (
	"math"
	"testing"
)

func TestEwmaWeights_Monotone(t *testing.T) {
	weights := ewmaWeights(5, 0.5)

	if len(weights) != 5 {
		t.Fatalf("Expected 5 weights, got %d", len(weights))
	}
	for i := 1; i < len(weights); i++ {
		if weights[i] <= weights[i-1] {
			t.Errorf("Weights must increase toward the newest row: %v", weights)
		}
	}
	// Each row is discounted by the decay rate per session of age.
	if !approxEqual(weights[0]/weights[1], 0.5) {
		t.Errorf("Expected adjacent weight ratio 0.5, got %g", weights[0]/weights[1])
	}
}

func TestEwmaWeights_NoDecay(t *testing.T) {
	weights := ewmaWeights(3, 1)
	for _, w := range weights {
		if w != 1 {
			t.Errorf("Decay rate 1 should weight all rows equally, got %v", weights)
		}
	}
}

func TestEWMA_Compute(t *testing.T) {
	out := newOut(1)
	ewmaComputation{}.Compute(testDay, []string{"A"}, out,
		[]Window{window([]float64{10}, []float64{20})},
		Params{"decay_rate": 0.5})

	// Weights 0.25 and 0.5: (10*0.25 + 20*0.5) / 0.75 = 16.666...
	if !approxEqual(out[0], 50.0/3.0) {
		t.Errorf("Expected %g, got %g", 50.0/3.0, out[0])
	}
}

func TestEWMA_EqualWeightMatchesMean(t *testing.T) {
	out := newOut(1)
	ewmaComputation{}.Compute(testDay, []string{"A"}, out,
		[]Window{window([]float64{1}, []float64{2}, []float64{6})},
		Params{"decay_rate": 1})

	if !approxEqual(out[0], 3) {
		t.Errorf("Expected 3, got %g", out[0])
	}
}

func TestEWMA_SkipsMissing(t *testing.T) {
	out := newOut(1)
	ewmaComputation{}.Compute(testDay, []string{"A"}, out,
		[]Window{window([]float64{math.NaN()}, []float64{20})},
		Params{"decay_rate": 0.5})

	if !approxEqual(out[0], 20) {
		t.Errorf("Expected 20, got %g", out[0])
	}
}

func TestEWMSTD_ConstantSeries(t *testing.T) {
	out := newOut(1)
	ewmstdComputation{}.Compute(testDay, []string{"A"}, out,
		[]Window{window([]float64{5}, []float64{5}, []float64{5})},
		Params{"decay_rate": 0.9})

	if !approxEqual(out[0], 0) {
		t.Errorf("Expected 0 for constant series, got %g", out[0])
	}
}

func TestEWMSTD_SingleObservation(t *testing.T) {
	out := newOut(1)
	ewmstdComputation{}.Compute(testDay, []string{"A"}, out,
		[]Window{window([]float64{5}, []float64{math.NaN()})},
		Params{"decay_rate": 0.9})

	if !math.IsNaN(out[0]) {
		t.Errorf("Expected NaN for a single observation, got %g", out[0])
	}
}

func TestDecayRateFromSpan(t *testing.T) {
	decay, err := DecayRateFromSpan(15)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !approxEqual(decay, 1-2.0/16.0) {
		t.Errorf("Expected %g, got %g", 1-2.0/16.0, decay)
	}
}

func TestDecayRateFromSpan_Invalid(t *testing.T) {
	if _, err := DecayRateFromSpan(1); err == nil {
		t.Error("Expected error for span <= 1, got nil")
	}
}

func TestDecayRateFromHalflife(t *testing.T) {
	decay, err := DecayRateFromHalflife(15)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !approxEqual(decay, math.Exp(math.Log(0.5)/15)) {
		t.Errorf("Unexpected decay rate %g", decay)
	}
}

func TestDecayRateFromHalflife_Invalid(t *testing.T) {
	if _, err := DecayRateFromHalflife(0); err == nil {
		t.Error("Expected error for non-positive halflife, got nil")
	}
}

func TestDecayRateFromCenterOfMass(t *testing.T) {
	decay, err := DecayRateFromCenterOfMass(15)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !approxEqual(decay, 1-1.0/16.0) {
		t.Errorf("Expected %g, got %g", 1-1.0/16.0, decay)
	}
}

func TestEWMA_InvalidDecayRate(t *testing.T) {
	if _, err := EWMA(Close, 10, 0); err == nil {
		t.Error("Expected error for decay rate 0, got nil")
	}
	if _, err := EWMA(Close, 10, 1.5); err == nil {
		t.Error("Expected error for decay rate > 1, got nil")
	}
}

func TestEWMAFromSpan_EquivalentIdentity(t *testing.T) {
	decay, err := DecayRateFromSpan(15)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	direct := mustExpr(t)(EWMA(Close, 30, decay))
	viaSpan := mustExpr(t)(EWMAFromSpan(Close, 30, 15))

	if Identity(direct) != Identity(viaSpan) {
		t.Error("FromSpan constructor should produce an identical term")
	}
}
