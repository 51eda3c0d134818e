// Package deferred keeps requests that exhausted every provider and replays
// them later. A request becomes retryable once 2^retryCount minutes have
// passed since it was deferred, and expires when its retry budget is spent.
package deferred
