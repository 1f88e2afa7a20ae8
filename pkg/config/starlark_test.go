package config

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

func TestStarlarkFactor_ComputesMean(t *testing.T) {
	script := `
def compute(today, assets, windows):
    w = windows[0]
    out = []
    for a in range(len(assets)):
        total = 0.0
        for row in w:
            total += row[a]
        out.append(total / len(w))
    return out
`
	term, err := NewStarlarkFactor("mean3", script, []pipeline.Term{pipeline.Close}, 3)
	if err != nil {
		t.Fatalf("NewStarlarkFactor failed: %v", err)
	}
	if term.Kind() != pipeline.KindFactor {
		t.Errorf("Expected a factor, got %s", term.Kind())
	}

	out := []float64{math.NaN(), math.NaN()}
	windows := []pipeline.Window{{
		{10, 100},
		{20, 200},
		{30, 300},
	}}
	term.Computation().Compute(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		[]string{"A", "B"}, out, windows, nil)

	if out[0] != 20 || out[1] != 200 {
		t.Errorf("Expected [20 200], got [%g %g]", out[0], out[1])
	}
}

func TestStarlarkFactor_SyntaxError(t *testing.T) {
	_, err := NewStarlarkFactor("bad", "def compute(:", []pipeline.Term{pipeline.Close}, 3)
	if err == nil {
		t.Fatal("Expected a syntax error")
	}
}

func TestStarlarkFactor_MissingCompute(t *testing.T) {
	_, err := NewStarlarkFactor("bad", "x = 1", []pipeline.Term{pipeline.Close}, 3)
	if err == nil || !strings.Contains(err.Error(), "compute function") {
		t.Errorf("Expected missing compute error, got %v", err)
	}
}

func TestStarlarkFactor_NoInputs(t *testing.T) {
	_, err := NewStarlarkFactor("bad", "def compute(today, assets, windows): return []", nil, 3)
	if err == nil {
		t.Fatal("Expected an error for a factor without inputs")
	}
}

func TestStarlarkFactor_RuntimeErrorLeavesRowMissing(t *testing.T) {
	script := `
def compute(today, assets, windows):
    fail("boom")
`
	term, err := NewStarlarkFactor("fails", script, []pipeline.Term{pipeline.Close}, 1)
	if err != nil {
		t.Fatalf("NewStarlarkFactor failed: %v", err)
	}

	out := []float64{math.NaN()}
	term.Computation().Compute(time.Now(), []string{"A"}, out,
		[]pipeline.Window{{{10}}}, nil)

	if !math.IsNaN(out[0]) {
		t.Errorf("Expected NaN after script failure, got %g", out[0])
	}
}

func TestStarlarkFactor_WrongLengthLeavesRowMissing(t *testing.T) {
	script := `
def compute(today, assets, windows):
    return [1.0]
`
	term, err := NewStarlarkFactor("short", script, []pipeline.Term{pipeline.Close}, 1)
	if err != nil {
		t.Fatalf("NewStarlarkFactor failed: %v", err)
	}

	out := []float64{math.NaN(), math.NaN()}
	term.Computation().Compute(time.Now(), []string{"A", "B"}, out,
		[]pipeline.Window{{{10, 20}}}, nil)

	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Errorf("Expected NaN row, got [%g %g]", out[0], out[1])
	}
}

func TestStarlarkFactor_IdentityIncludesScript(t *testing.T) {
	a := "def compute(today, assets, windows): return [1.0]"
	b := "def compute(today, assets, windows): return [2.0]"

	t1, err := NewStarlarkFactor("custom", a, []pipeline.Term{pipeline.Close}, 1)
	if err != nil {
		t.Fatalf("NewStarlarkFactor failed: %v", err)
	}
	t2, err := NewStarlarkFactor("custom", b, []pipeline.Term{pipeline.Close}, 1)
	if err != nil {
		t.Fatalf("NewStarlarkFactor failed: %v", err)
	}
	t3, err := NewStarlarkFactor("custom", a, []pipeline.Term{pipeline.Close}, 1)
	if err != nil {
		t.Fatalf("NewStarlarkFactor failed: %v", err)
	}

	if pipeline.Identity(t1) == pipeline.Identity(t2) {
		t.Error("Expected different identities for different scripts")
	}
	if pipeline.Identity(t1) != pipeline.Identity(t3) {
		t.Error("Expected identical identities for identical scripts")
	}
}

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)
	result, err := se.Evaluate(context.Background(), "result = base + 1",
		map[string]interface{}{"base": int64(41)})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Output["result"] != int64(42) {
		t.Errorf("Expected 42, got %v", result.Output["result"])
	}
}

func TestStarlarkEvaluator_SkipsUnderscoreGlobals(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)
	result, err := se.Evaluate(context.Background(), "_hidden = 1\nshown = 2", nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if _, ok := result.Output["_hidden"]; ok {
		t.Error("Expected underscore globals to be skipped")
	}
	if result.Output["shown"] != int64(2) {
		t.Errorf("Expected 2, got %v", result.Output["shown"])
	}
}

func TestStarlarkEvaluator_BadScript(t *testing.T) {
	se := NewStarlarkEvaluator(5 * time.Second)
	if _, err := se.Evaluate(context.Background(), "def broken(:", nil); err == nil {
		t.Fatal("Expected an error for a broken script")
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	script := `
def _spin():
    total = 0
    for i in range(5000):
        for j in range(5000):
            total += 1
    return total

_result = _spin()
`
	se := NewStarlarkEvaluator(50 * time.Millisecond)
	_, err := se.Evaluate(context.Background(), script, nil)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestParse_BrokenStarlarkScriptReported(t *testing.T) {
	doc := `
pipeline:
  name: test
  outputs:
    custom:
      fn: starlark
      input: close
      window: 3
      script: "def compute(:"
`
	p := NewParser()
	result, err := p.Parse(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	found := false
	for _, e := range result.Errors {
		if e.Path == "pipeline.outputs.custom" {
			found = true
		}
	}
	if !found {
		t.Error("Expected a validation error for the broken script")
	}
}

func TestBuild_StarlarkFactor(t *testing.T) {
	doc := `
pipeline:
  name: test
  outputs:
    custom:
      fn: starlark
      input: close
      window: 2
      script: |
        def compute(today, assets, windows):
            return [row for row in windows[0]][-1]
`
	p := NewParser()
	result, err := p.Parse(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for _, e := range result.Errors {
		t.Fatalf("Unexpected validation error: %s: %s", e.Path, e.Message)
	}
	pl, err := p.Build(result.Document)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := pl.Graph(); err != nil {
		t.Fatalf("Graph compilation failed: %v", err)
	}
}

func TestBuild_StarlarkRequiresScript(t *testing.T) {
	err := buildDoc(t, `
pipeline:
  name: test
  outputs:
    custom:
      fn: starlark
      input: close
      window: 2
`)
	if err == nil || !strings.Contains(err.Error(), "script") {
		t.Errorf("Expected missing script error, got %v", err)
	}
}
