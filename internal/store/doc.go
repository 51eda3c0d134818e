// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the generation core, so the job queue, usage ledger and deferred queue
// run unchanged on Postgres or on the in-memory stores used in tests.
package store
