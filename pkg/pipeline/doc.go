// Package pipeline defines the term model for declarative panel
// computations: factors (numeric), filters (boolean masks), and classifiers
// (categorical labels) over a panel of assets and business-day sessions.
//
// Terms are immutable value objects. A term's identity is a pure function of
// its computation, inputs, window length, mask, and parameters, so two
// structurally identical terms are the same graph node and are computed once.
//
// The package also ships the built-in computation library (moving averages,
// returns, RSI, exponential-weighted statistics, threshold filters,
// cross-sectional quantiles) mirroring what callers expect from a pricing
// pipeline, and the classified error type shared by the graph builder and
// execution engine.
package pipeline
