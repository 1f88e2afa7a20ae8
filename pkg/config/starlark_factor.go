package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// NewStarlarkFactor compiles a Starlark script defining a global function
//
//	def compute(today, assets, windows): ...
//
// and returns a factor term evaluating it once per session. today is the
// session date as "YYYY-MM-DD", assets is the universe in order, and
// windows holds one matrix per input: window-length rows (oldest first) of
// one float per asset, NaN where data is missing or masked. compute must
// return a sequence of len(assets) values; non-numeric entries stay
// missing.
func NewStarlarkFactor(name, script string, inputs []pipeline.Term, windowLength int, opts ...pipeline.Option) (*pipeline.Expr, error) {
	comp, err := newStarlarkComputation(name, script, len(inputs))
	if err != nil {
		return nil, err
	}
	return pipeline.NewExpr(comp, inputs, windowLength, opts...)
}

type starlarkComputation struct {
	name  string
	hash  string
	arity int
	fn    starlark.Callable
}

func newStarlarkComputation(name, script string, arity int) (*starlarkComputation, error) {
	if arity < 1 {
		return nil, fmt.Errorf("starlark factor %s needs at least one input", name)
	}

	thread := &starlark.Thread{
		Name:  "alphapipe",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	predeclared := starlark.StringDict{
		"struct":    starlarkstruct.Default,
		"range":     starlark.NewBuiltin("range", builtinRange),
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
		"nan":       starlark.Float(math.NaN()),
	}

	globals, err := starlark.ExecFile(thread, name+".star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark factor %s: %w", name, err)
	}

	fn, ok := globals["compute"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("starlark factor %s must define a compute function", name)
	}

	sum := sha256.Sum256([]byte(script))
	return &starlarkComputation{
		name:  name,
		hash:  hex.EncodeToString(sum[:])[:12],
		arity: arity,
		fn:    fn,
	}, nil
}

// Name includes the script hash so two factors with different scripts are
// never treated as the same term.
func (c *starlarkComputation) Name() string {
	return "starlark:" + c.name + ":" + c.hash
}

func (c *starlarkComputation) Kind() pipeline.Kind { return pipeline.KindFactor }

func (c *starlarkComputation) InputDTypes() []pipeline.DType {
	dtypes := make([]pipeline.DType, c.arity)
	for i := range dtypes {
		dtypes[i] = pipeline.Float64
	}
	return dtypes
}

func (c *starlarkComputation) ParamNames() []string { return nil }

func (c *starlarkComputation) Compute(today time.Time, assets []string, out []float64, windows []pipeline.Window, _ pipeline.Params) {
	args := starlark.Tuple{
		starlark.String(today.Format("2006-01-02")),
		toStringList(assets),
		toWindowList(windows),
	}

	thread := &starlark.Thread{
		Name:  "alphapipe",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	result, err := starlark.Call(thread, c.fn, args, nil)
	if err != nil {
		// Script failures for one session leave the row missing.
		return
	}

	seq, ok := result.(starlark.Indexable)
	if !ok || seq.Len() != len(assets) {
		return
	}
	for a := range assets {
		switch v := seq.Index(a).(type) {
		case starlark.Float:
			out[a] = float64(v)
		case starlark.Int:
			if i, ok := v.Int64(); ok {
				out[a] = float64(i)
			}
		}
	}
}

func toStringList(ss []string) *starlark.List {
	vals := make([]starlark.Value, len(ss))
	for i, s := range ss {
		vals[i] = starlark.String(s)
	}
	return starlark.NewList(vals)
}

func toWindowList(windows []pipeline.Window) *starlark.List {
	ws := make([]starlark.Value, len(windows))
	for i, w := range windows {
		rows := make([]starlark.Value, len(w))
		for r, row := range w {
			cells := make([]starlark.Value, len(row))
			for a, v := range row {
				cells[a] = starlark.Float(v)
			}
			rows[r] = starlark.NewList(cells)
		}
		ws[i] = starlark.NewList(rows)
	}
	return starlark.NewList(ws)
}
