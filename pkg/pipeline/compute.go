package pipeline

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Params is an immutable record of named scalar parameters bound to a term
// at construction. Parameter names and values participate in term identity.
type Params map[string]float64

// Get returns the value of a named parameter. Computations only read
// parameters whose names they declared, so a missing name is a programming
// error rather than a data condition.
func (p Params) Get(name string) float64 {
	v, ok := p[name]
	if !ok {
		panic(fmt.Sprintf("undeclared parameter %q", name))
	}
	return v
}

// sortedNames returns the parameter names in sorted order.
func (p Params) sortedNames() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clone returns a defensive copy of the parameter record.
func (p Params) clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Window is a trailing block of input data for a single session: one row per
// session (oldest first), one column per asset. Cells are NaN where data is
// missing or masked out.
type Window [][]float64

// Computation is the compute definition shared by every term constructed
// from it. Implementations must be stateless beyond their name so that a
// term's behavior is fully described by (computation name, params).
type Computation interface {
	// Name uniquely identifies the compute definition. It participates in
	// term identity: two terms with the same name, inputs, window, mask, and
	// params are the same node.
	Name() string

	// Kind is the category of output the computation produces.
	Kind() Kind

	// InputDTypes declares the expected dtype of each input term, in order.
	// Construction fails with an UNSUPPORTED_DTYPE error when an input's
	// dtype does not match.
	InputDTypes() []DType

	// ParamNames declares the exact set of parameter names a term built from
	// this computation must bind.
	ParamNames() []string

	// Compute produces one output value per asset for a single session.
	// windows holds one trailing window per input, each with window-length
	// rows ending at today. out has one slot per asset and is prefilled with
	// NaN; slots left untouched stay missing. Implementations must exclude
	// NaN cells from any statistic rather than treating them as zero, and
	// must resolve insufficient history or degenerate inputs to NaN rather
	// than failing.
	Compute(today time.Time, assets []string, out []float64, windows []Window, params Params)
}

// NaN is the missing-value sentinel used throughout the engine.
func NaN() float64 { return math.NaN() }

// nanMean returns the mean of the non-NaN values in vs, or NaN when no
// valid observation exists.
func nanMean(vs []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range vs {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// nanSum returns the sum of the non-NaN values in vs and the count of valid
// observations.
func nanSum(vs []float64) (float64, int) {
	sum, n := 0.0, 0
	for _, v := range vs {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	return sum, n
}

// column extracts the per-session series of a single asset from a window,
// oldest first.
func column(w Window, asset int) []float64 {
	out := make([]float64, len(w))
	for i, row := range w {
		out[i] = row[asset]
	}
	return out
}

// Registry resolves computation definitions by name, allowing declarative
// pipeline documents to reference built-ins and registered extensions.
type Registry struct {
	mu           sync.RWMutex
	computations map[string]Computation
}

// NewRegistry creates an empty computation registry.
func NewRegistry() *Registry {
	return &Registry{computations: make(map[string]Computation)}
}

// Register adds a computation under its own name. Re-registering a name is
// an error; computations are process-lifetime definitions.
func (r *Registry) Register(c Computation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.computations[name]; exists {
		return NewBuildError(fmt.Sprintf("computation %q already registered", name), nil).
			WithCode(ErrCodeValidation)
	}
	r.computations[name] = c
	return nil
}

// Lookup resolves a computation by name.
func (r *Registry) Lookup(name string) (Computation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.computations[name]
	return c, ok
}

// Names returns the registered computation names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.computations))
	for name := range r.computations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuiltinRegistry returns a registry preloaded with the built-in factor,
// filter, and classifier computations.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, c := range builtinComputations() {
		// Built-in names are unique by construction.
		_ = r.Register(c)
	}
	return r
}
