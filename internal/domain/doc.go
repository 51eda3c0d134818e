// Package domain contains the core entities of the content generation
// system: generation jobs and their per-item results, deferred requests,
// provider profiles and usage ledger periods. It is independent of any
// storage technology or transport.
package domain
