package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	// Register built-in schemas
	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("pipeline", builtinPipelineSchema)
	sr.RegisterSchema("term", builtinTermSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Convert data to CUE value
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

// termSchemaDefs declares the #Term definition shared by both schemas.
const termSchemaDefs = `
// Term schema for pipeline term definitions
#Term: {
	// Fn selects the computation
	fn: string & =~"^[a-z_]+$"

	// Input is the single input term or column
	input?: string

	// Inputs are the input terms or columns, in order
	inputs?: [...string]

	// Window is the trailing window length in sessions
	window?: int & >=0

	// Params are named scalar parameters
	params?: {[string]: number}

	// Mask names a filter term
	mask?: string

	// Script is the Starlark source for fn: starlark
	script?: string
}
`

// The trailing embedding makes the schema value itself carry the
// definition's constraints when unified with data.
const builtinTermSchema = termSchemaDefs + `
#Term
`

const builtinPipelineSchema = termSchemaDefs + `
// Pipeline schema for pipeline definitions
#Pipeline: {
	// Name is the pipeline name
	name: string & =~"^[a-zA-Z0-9_-]+$"

	// Terms are named intermediate terms
	terms?: {[string]: #Term}

	// Outputs are the named output terms
	outputs: {[string]: #Term}

	// Screen names the filter applied to result rows
	screen?: string
}

#Pipeline
`

// ValidatePipeline validates a pipeline configuration against the pipeline schema.
func (sr *SchemaRegistry) ValidatePipeline(ctx context.Context, cfg PipelineConfig) error {
	return sr.ValidateAgainstSchema(ctx, "pipeline", cfg)
}

// ValidateTerm validates a term specification against the term schema.
func (sr *SchemaRegistry) ValidateTerm(ctx context.Context, spec TermSpec) error {
	return sr.ValidateAgainstSchema(ctx, "term", spec)
}
