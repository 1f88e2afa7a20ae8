// Package stores provides the persistence layer for pipeline data.
// It includes SQLite-based storage with WAL mode, connection pooling,
// daily pricing bars that can back a pipeline run directly, and run
// history records.
package stores
