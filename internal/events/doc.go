// Package events carries task-lifecycle status events from the dispatcher
// and job queue to whoever is listening.
//
// Publishing is fire-and-forget: a Publisher never blocks its caller on a
// slow handler and never reports handler errors back. The package provides
// an in-memory emitter that fans events out to registered handlers, a
// handler that writes events to the structured log, and a websocket hub
// that streams events to connected clients.
package events
