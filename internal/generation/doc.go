// Package generation turns one item of a generation job into content.
//
// The Generator interface is the boundary between the job queue and the
// provider layer. DispatchGenerator implements it on top of the fallback
// dispatcher, so job items benefit from the same cache, cost governor and
// provider ordering as interactive requests.
package generation
