// Package api handles incoming HTTP requests, request validation and
// response formatting for the generation gateway. Handlers translate HTTP
// concerns into calls on the dispatcher, selector, job queue, deferred queue
// and cost governor, and map their errors to status codes in one place
// (see MapErrorToStatusCode).
package api
