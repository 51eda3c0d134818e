// Package dispatch implements the fallback dispatcher used for content
// generation.
//
// Providers are tried cheapest first. A cached response short-circuits the
// chain; otherwise each provider is admitted by the cost governor, called,
// and its output checked by the extractor for the request kind. The first
// provider to produce well-formed output wins; its usage is recorded and
// its output cached. When every provider fails, the caller receives an
// AllProvidersExhaustedError listing each attempt.
package dispatch
