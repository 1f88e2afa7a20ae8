// Package engine compiles declarative pipelines into dependency graphs and
// evaluates them over a session range and asset universe.
//
// # Overview
//
// A Pipeline names its output terms and optionally carries a screen filter.
// Graph compilation validates the term graph, deduplicates structurally
// identical terms, propagates trailing-window lookbacks, and buckets nodes
// into dependency levels. Evaluation walks the levels in order, computing
// the nodes of each level concurrently:
//
//  1. Compile - BuildGraph validates, interns, and levels the terms
//  2. Load - leaf terms fetch raw columns through a coalescing loader
//  3. Compute - expression terms consume trailing windows of their inputs
//  4. Assemble - output frames are trimmed, screened, and flattened to rows
//
// Intermediate frames are reference counted and released as soon as their
// last consumer has computed, so peak memory tracks graph width rather than
// graph size.
//
// All scheduling is deterministic: outputs are visited in sorted name
// order and node order is a stable post-order of the term graph, so two
// compilations of equivalent pipelines produce identical graphs.
package engine
