// Package config parses, validates, and builds pipeline definitions from
// YAML documents. Documents are checked against struct validation tags
// and a CUE schema before terms are constructed, so malformed definitions
// fail at parse time rather than mid-run. Custom factors may embed
// Starlark scripts, which run sandboxed under a timeout. A Watcher
// rebuilds a document whenever its file changes, for iterating on a
// definition during development.
package config
