// Package store persists units, annotated units, mixes and generation records
// in SQLite.
//
// The Store wraps a *sql.DB connection pool. Each call acquires its own
// connection and multi-statement operations run in their own transaction, so
// callers on different goroutines never share a session. Busy errors from
// concurrent writers are retried with a short backoff.
//
// Lookups return (nil, nil) when a row is absent; operations that must fail on
// a missing row return errors tagged with services.ErrNotFound, and reference
// violations are tagged with services.ErrConflict.
//
// Schema changes bump schemaVersion in schema.go; there are no in-place
// migrations.
package store
