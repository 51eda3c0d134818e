// Package task runs durable multi-item generation jobs.
//
// A JobQueue persists jobs through store.JobStore and moves them through
// pending, processing, completed and failed with conditional writes, so any
// number of drainers can share one table. A Runner drives the queue in the
// background: workers drain on wake signals, a ticker drains periodically,
// a monitor resets jobs stuck in processing, and retries wake the workers
// once their backoff has elapsed.
package task
