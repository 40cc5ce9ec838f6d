// Package tasks persists manufacturing tasks ("pieces") in SQLite and is the
// single source of truth for their lifecycle.
//
// Every status change goes through Transition, a compare-and-set update that
// only applies when the persisted status still matches the caller's expected
// prior status. A guard miss is reported as "not applied" rather than an
// error, so concurrent writers (the worker, cancellation, recovery) can race
// without corrupting state. CreateIfAbsent is idempotent on (piece id, piece
// type), which lets ingress tolerate duplicate deliveries.
//
// The database is one file per machine instance. Schema changes bump the
// version in schema.go; operators clear the database to adopt the new schema.
package tasks
