package config

import (
	"context"
	"testing"
)

func TestSchemaRegistry_BuiltinSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{"pipeline", "term"} {
		if _, ok := sr.GetSchema(name); !ok {
			t.Errorf("Expected built-in schema %q", name)
		}
	}
}

func TestSchemaRegistry_RegisterInvalidSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("broken", "#X: {a: int & string}"); err == nil {
		t.Error("Expected an error for a contradictory schema")
	}
}

func TestValidatePipeline_Valid(t *testing.T) {
	sr := NewSchemaRegistry()
	cfg := PipelineConfig{
		Name: "momentum",
		Outputs: map[string]TermSpec{
			"sma20": {Fn: "sma", Input: "close", Window: 20},
		},
	}
	if err := sr.ValidatePipeline(context.Background(), cfg); err != nil {
		t.Errorf("Expected valid pipeline, got %v", err)
	}
}

func TestValidatePipeline_BadName(t *testing.T) {
	sr := NewSchemaRegistry()
	cfg := PipelineConfig{
		Name: "no spaces allowed",
		Outputs: map[string]TermSpec{
			"sma20": {Fn: "sma", Input: "close", Window: 20},
		},
	}
	if err := sr.ValidatePipeline(context.Background(), cfg); err == nil {
		t.Error("Expected an error for a name with spaces")
	}
}

func TestValidatePipeline_MissingOutputs(t *testing.T) {
	sr := NewSchemaRegistry()
	cfg := PipelineConfig{Name: "empty"}
	if err := sr.ValidatePipeline(context.Background(), cfg); err == nil {
		t.Error("Expected an error for missing outputs")
	}
}

func TestValidateTerm_BadFn(t *testing.T) {
	sr := NewSchemaRegistry()
	spec := TermSpec{Fn: "SMA-20", Input: "close", Window: 20}
	if err := sr.ValidateTerm(context.Background(), spec); err == nil {
		t.Error("Expected an error for an fn with uppercase and dashes")
	}
}

func TestValidateTerm_NegativeWindow(t *testing.T) {
	sr := NewSchemaRegistry()
	spec := TermSpec{Fn: "sma", Input: "close", Window: -1}
	if err := sr.ValidateTerm(context.Background(), spec); err == nil {
		t.Error("Expected an error for a negative window")
	}
}
