// Package provider defines the capability interface every content provider
// implements, the error taxonomy used to decide what is worth retrying, a
// JSON-over-HTTP transport, and the concrete OpenAI-compatible and
// per-character translation providers. Gemini lives in platform/gemini.
//
// Retry with backoff for a single provider's transient failures belongs to
// the Resilient wrapper in this package, never to the dispatcher.
package provider
