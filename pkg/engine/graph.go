package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alphapipe/alphapipe/pkg/pipeline"
)

// Node is a single vertex of the compiled execution graph: a deduplicated
// term together with its resolved dependencies and the bookkeeping the
// executor needs to schedule and release it.
type Node struct {
	// ID is the structural identity of the term.
	ID pipeline.TermID

	// Term is the canonical term for this identity. When several distinct
	// Term values share an identity, the first one discovered wins.
	Term pipeline.Term

	// Inputs are the deduplicated input nodes, in declaration order.
	Inputs []*Node

	// Mask is the deduplicated mask node, or nil.
	Mask *Node

	// ExtraRows is the number of sessions before the requested start date
	// this node must be computed for, so that every consumer's trailing
	// window is fully populated on the first requested session.
	ExtraRows int

	// Level is the node's execution level. All nodes of a level depend only
	// on nodes of strictly smaller levels and can run in parallel.
	Level int

	// Refs counts the reads of this node's frame during execution: one per
	// consuming input or mask edge. The executor releases the frame when
	// the count reaches zero, unless the node is a requested output.
	Refs int

	// Output reports whether the node is a requested output or the screen,
	// which keeps its frame resident until assembly.
	Output bool
}

// IsLeaf reports whether the node is a raw data column.
func (n *Node) IsLeaf() bool { return n.Term.ColumnName() != "" }

// Window returns the effective trailing window length of the node's
// compute step. Window lengths of 0 and 1 both mean current session only.
func (n *Node) Window() int {
	if w := n.Term.WindowLength(); w > 1 {
		return w
	}
	return 1
}

// Graph is the compiled execution plan for one pipeline: deduplicated
// nodes in deterministic topological order, grouped into parallel levels.
type Graph struct {
	// Nodes maps term identity to graph node.
	Nodes map[pipeline.TermID]*Node

	// Order lists every node with inputs before consumers. The order is
	// deterministic: outputs are explored in name order, screen last, and
	// each node's inputs in declaration order followed by its mask.
	Order []*Node

	// Levels groups Order by execution level, level 0 first.
	Levels [][]*Node

	// Outputs maps requested output names to their nodes.
	Outputs map[string]*Node

	// OutputNames holds the output names in sorted order.
	OutputNames []string

	// Screen is the screen node, or nil.
	Screen *Node

	// MaxExtra is the largest ExtraRows across all nodes: the amount of
	// calendar history a run needs before its start date.
	MaxExtra int
}

// BuildGraph compiles named output terms and an optional screen into an
// execution graph. It rejects cyclic term references before computing
// identities, deduplicates structurally identical terms into shared nodes,
// propagates trailing-window requirements to ExtraRows, and assigns
// execution levels. No data is loaded here; every failure is a build error.
func BuildGraph(outputs map[string]pipeline.Term, screen pipeline.Term) (*Graph, error) {
	if len(outputs) == 0 {
		return nil, pipeline.NewBuildError("pipeline has no outputs", nil).
			WithCode(pipeline.ErrCodeValidation)
	}

	names := make([]string, 0, len(outputs))
	for name, term := range outputs {
		if name == "" {
			return nil, pipeline.NewBuildError("output name must not be empty", nil).
				WithCode(pipeline.ErrCodeValidation)
		}
		if term == nil {
			return nil, pipeline.NewBuildError(fmt.Sprintf("output %q is nil", name), nil).
				WithCode(pipeline.ErrCodeValidation)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if screen != nil && screen.Kind() != pipeline.KindFilter {
		return nil, pipeline.NewBuildError(
			fmt.Sprintf("screen must be a filter, got %s", screen.Kind()), nil).
			WithCode(pipeline.ErrCodeUnsupportedDType)
	}

	roots := make([]pipeline.Term, 0, len(names)+1)
	for _, name := range names {
		roots = append(roots, outputs[name])
	}
	if screen != nil {
		roots = append(roots, screen)
	}

	// Cycle detection runs on the raw term object graph, before identity
	// hashing: identities are only well defined on acyclic terms.
	if err := detectCycles(roots); err != nil {
		return nil, err
	}

	g := &Graph{
		Nodes:       make(map[pipeline.TermID]*Node),
		Outputs:     make(map[string]*Node, len(names)),
		OutputNames: names,
	}

	for _, root := range roots {
		g.addTerm(root)
	}
	for _, name := range names {
		node := g.Nodes[pipeline.Identity(outputs[name])]
		node.Output = true
		g.Outputs[name] = node
	}
	if screen != nil {
		g.Screen = g.Nodes[pipeline.Identity(screen)]
		g.Screen.Output = true
	}

	g.propagateExtraRows()
	g.assignLevels()

	return g, nil
}

// addTerm interns the term and its transitive dependencies into the graph,
// appending newly discovered nodes to Order in post-order (inputs first).
// Structurally identical terms collapse onto one node; every consuming
// edge, deduplicated or not, increments the input's reference count.
func (g *Graph) addTerm(t pipeline.Term) *Node {
	id := pipeline.Identity(t)
	if node, ok := g.Nodes[id]; ok {
		return node
	}

	node := &Node{ID: id, Term: t}
	// Register before recursing so diamond-shaped sharing resolves to the
	// first-discovered node.
	g.Nodes[id] = node

	for _, in := range t.Inputs() {
		dep := g.addTerm(in)
		dep.Refs++
		node.Inputs = append(node.Inputs, dep)
	}
	if m := t.Mask(); m != nil {
		dep := g.addTerm(m)
		dep.Refs++
		node.Mask = dep
	}

	g.Order = append(g.Order, node)
	return node
}

// propagateExtraRows walks Order from consumers to inputs. A consumer
// computed for E extra sessions with a window of W rows reads its inputs
// (and mask) back to E+W-1 sessions before the start date; each dependency
// keeps the maximum requirement across its consumers. Requested outputs
// and the screen need no rows before the start date themselves.
func (g *Graph) propagateExtraRows() {
	for i := len(g.Order) - 1; i >= 0; i-- {
		c := g.Order[i]
		need := c.ExtraRows + c.Window() - 1
		for _, in := range c.Inputs {
			if need > in.ExtraRows {
				in.ExtraRows = need
			}
		}
		if c.Mask != nil && need > c.Mask.ExtraRows {
			c.Mask.ExtraRows = need
		}
		if c.ExtraRows > g.MaxExtra {
			g.MaxExtra = c.ExtraRows
		}
	}
}

// assignLevels computes each node's execution level as one more than the
// deepest dependency, then buckets Order into Levels.
func (g *Graph) assignLevels() {
	depth := 0
	for _, n := range g.Order {
		level := 0
		for _, in := range n.Inputs {
			if in.Level+1 > level {
				level = in.Level + 1
			}
		}
		if n.Mask != nil && n.Mask.Level+1 > level {
			level = n.Mask.Level + 1
		}
		n.Level = level
		if level+1 > depth {
			depth = level + 1
		}
	}

	g.Levels = make([][]*Node, depth)
	for _, n := range g.Order {
		g.Levels[n.Level] = append(g.Levels[n.Level], n)
	}
}

// detectCycles runs a depth-first search over the raw term graph, tracking
// the recursion stack so the offending chain can be named in the error.
func detectCycles(roots []pipeline.Term) error {
	visited := make(map[pipeline.Term]bool)
	recStack := make(map[pipeline.Term]bool)

	var visit func(t pipeline.Term, path []pipeline.Term) error
	visit = func(t pipeline.Term, path []pipeline.Term) error {
		visited[t] = true
		recStack[t] = true
		path = append(path, t)

		deps := t.Inputs()
		if m := t.Mask(); m != nil {
			deps = append(append([]pipeline.Term(nil), deps...), m)
		}
		for _, dep := range deps {
			if !visited[dep] {
				if err := visit(dep, path); err != nil {
					return err
				}
			} else if recStack[dep] {
				return pipeline.NewBuildError(
					fmt.Sprintf("cyclic term dependency: %s", formatCycle(path, dep)), nil).
					WithCode(pipeline.ErrCodeCyclicDependency).
					WithTerm(dep.String())
			}
		}

		recStack[t] = false
		return nil
	}

	for _, root := range roots {
		if !visited[root] {
			if err := visit(root, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatCycle renders the portion of the DFS path that forms the cycle.
func formatCycle(path []pipeline.Term, repeated pipeline.Term) string {
	start := 0
	for i, t := range path {
		if t == repeated {
			start = i
			break
		}
	}
	parts := make([]string, 0, len(path)-start+1)
	for _, t := range path[start:] {
		parts = append(parts, t.String())
	}
	parts = append(parts, repeated.String())
	return strings.Join(parts, " -> ")
}

// ToDOT renders the graph in DOT format for Graphviz, grouping nodes by
// execution level.
func (g *Graph) ToDOT() string {
	label := func(n *Node) string {
		if n.IsLeaf() {
			return n.Term.ColumnName()
		}
		return fmt.Sprintf("%s\\nwindow=%d extra=%d",
			n.Term.Computation().Name(), n.Term.WindowLength(), n.ExtraRows)
	}

	var sb strings.Builder
	sb.WriteString("digraph pipeline {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, nodes := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, n := range nodes {
			shape := "white"
			if n.Output {
				shape = "lightblue"
			} else if n.IsLeaf() {
				shape = "lightgray"
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				shortID(n.ID), label(n), shape))
		}
		sb.WriteString("  }\n\n")
	}

	for _, n := range g.Order {
		for _, in := range n.Inputs {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", shortID(in.ID), shortID(n.ID)))
		}
		if n.Mask != nil {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [style=dashed, label=\"mask\"];\n",
				shortID(n.Mask.ID), shortID(n.ID)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func shortID(id pipeline.TermID) string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}
