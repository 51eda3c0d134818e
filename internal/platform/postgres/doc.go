// Package postgres provides PostgreSQL implementations of the job, result,
// usage ledger and deferred request stores defined in internal/store, plus
// the embedded goose migrations that create their tables.
//
// Cross-process coordination relies only on conditional writes: a job is
// claimed with UPDATE ... WHERE status = 'pending' RETURNING, and ledger
// counters are incremented with INSERT ... ON CONFLICT DO UPDATE.
package postgres
