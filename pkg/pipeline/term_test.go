package pipeline

import (
	"errors"
	"testing"
)

func mustExpr(t *testing.T) func(*Expr, error) *Expr {
	t.Helper()
	return func(e *Expr, err error) *Expr {
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		return e
	}
}

func TestIdentity_StructurallyEqualTerms(t *testing.T) {
	a := mustExpr(t)(SMA(Close, 5))
	b := mustExpr(t)(SMA(Close, 5))

	if Identity(a) != Identity(b) {
		t.Error("Structurally identical terms should share an identity")
	}
}

func TestIdentity_DifferentWindow(t *testing.T) {
	a := mustExpr(t)(SMA(Close, 5))
	b := mustExpr(t)(SMA(Close, 6))

	if Identity(a) == Identity(b) {
		t.Error("Different window lengths should produce different identities")
	}
}

func TestIdentity_DifferentInputs(t *testing.T) {
	a := mustExpr(t)(SMA(Close, 5))
	b := mustExpr(t)(SMA(Volume, 5))

	if Identity(a) == Identity(b) {
		t.Error("Different inputs should produce different identities")
	}
}

func TestIdentity_InputOrderMatters(t *testing.T) {
	a := mustExpr(t)(Correlation(Close, Volume, 10))
	b := mustExpr(t)(Correlation(Volume, Close, 10))

	if Identity(a) == Identity(b) {
		t.Error("Reordering inputs changes semantics and must change identity")
	}
}

func TestIdentity_ParamsMatter(t *testing.T) {
	a := mustExpr(t)(EWMA(Close, 10, 0.5))
	b := mustExpr(t)(EWMA(Close, 10, 0.6))
	c := mustExpr(t)(EWMA(Close, 10, 0.5))

	if Identity(a) == Identity(b) {
		t.Error("Different decay rates should produce different identities")
	}
	if Identity(a) != Identity(c) {
		t.Error("Equal params should produce equal identities")
	}
}

func TestIdentity_MaskMatters(t *testing.T) {
	mask := mustExpr(t)(GreaterThan(Volume, 0))

	plain := mustExpr(t)(SMA(Close, 5))
	masked, err := NewExpr(smaComputation{}, []Term{Close}, 5, WithMask(mask))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Identity(plain) == Identity(masked) {
		t.Error("Masked and unmasked terms must have different identities")
	}
}

func TestIdentity_DiamondSharesSubexpression(t *testing.T) {
	// Two distinct consumers of the same sub-expression must agree on its
	// identity so the graph collapses the diamond to one node.
	shared1 := mustExpr(t)(SMA(Close, 5))
	shared2 := mustExpr(t)(SMA(Close, 5))

	top1 := mustExpr(t)(ReturnsOf(shared1, 2))
	top2 := mustExpr(t)(ReturnsOf(shared2, 2))

	if Identity(top1) != Identity(top2) {
		t.Error("Consumers of structurally equal inputs should be identical")
	}
}

func TestNewExpr_NegativeWindow(t *testing.T) {
	_, err := SMA(Close, -1)
	if err == nil {
		t.Fatal("Expected error for negative window length, got nil")
	}
	if !HasCode(err, ErrCodeInvalidWindow) {
		t.Errorf("Expected %s, got: %v", ErrCodeInvalidWindow, err)
	}
}

func TestNewExpr_DTypeMismatch(t *testing.T) {
	quantiles := mustExpr(t)(Quantiles(Close, 4))

	// A factor expecting numeric input must reject a classifier input.
	_, err := SMA(quantiles, 5)
	if err == nil {
		t.Fatal("Expected error for classifier input to factor, got nil")
	}
	if !HasCode(err, ErrCodeUnsupportedDType) {
		t.Errorf("Expected %s, got: %v", ErrCodeUnsupportedDType, err)
	}
}

func TestNewExpr_MaskMustBeFilter(t *testing.T) {
	notAFilter := mustExpr(t)(SMA(Close, 5))

	_, err := NewExpr(smaComputation{}, []Term{Close}, 5, WithMask(notAFilter))
	if err == nil {
		t.Fatal("Expected error for factor used as mask, got nil")
	}
	if !HasCode(err, ErrCodeUnsupportedDType) {
		t.Errorf("Expected %s, got: %v", ErrCodeUnsupportedDType, err)
	}
}

func TestNewExpr_WrongInputArity(t *testing.T) {
	_, err := NewExpr(wavComputation{}, []Term{Close}, 5)
	if err == nil {
		t.Fatal("Expected error for missing input, got nil")
	}
	if !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected %s, got: %v", ErrCodeValidation, err)
	}
}

func TestNewExpr_UndeclaredParam(t *testing.T) {
	_, err := NewExpr(smaComputation{}, []Term{Close}, 5,
		WithParams(Params{"decay_rate": 0.5}))
	if err == nil {
		t.Fatal("Expected error for undeclared param, got nil")
	}
}

func TestNewExpr_MissingDeclaredParam(t *testing.T) {
	_, err := NewExpr(ewmaComputation{}, []Term{Close}, 5)
	if err == nil {
		t.Fatal("Expected error for unbound declared param, got nil")
	}
}

func TestNewExpr_BuildErrorClass(t *testing.T) {
	_, err := SMA(Close, -1)

	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *PipelineError, got %T", err)
	}
	if perr.Class != ErrorClassBuild {
		t.Errorf("Expected build error class, got %s", perr.Class)
	}
}

func TestParams_ImmutableAfterConstruction(t *testing.T) {
	params := Params{"decay_rate": 0.5}
	e, err := NewExpr(ewmaComputation{}, []Term{Close}, 10, WithParams(params))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	id := Identity(e)

	// Mutating the caller's map must not change the term.
	params["decay_rate"] = 0.9

	if e.Params().Get("decay_rate") != 0.5 {
		t.Error("Term params should be copied at construction")
	}
	if Identity(e) != id {
		t.Error("Term identity changed after caller mutated its params map")
	}
}

func TestRegistry_BuiltinsResolvable(t *testing.T) {
	r := BuiltinRegistry()
	for _, name := range []string{"latest", "returns", "sma", "wav", "rsi",
		"max_drawdown", "stddev", "correlation", "ewma", "ewmstd",
		"gt", "ge", "lt", "le", "not_missing", "quantiles"} {
		if _, ok := r.Lookup(name); !ok {
			t.Errorf("Built-in computation %q not registered", name)
		}
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(smaComputation{}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := r.Register(smaComputation{}); err == nil {
		t.Error("Expected error registering duplicate name, got nil")
	}
}
