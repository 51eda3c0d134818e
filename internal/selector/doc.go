// Package selector picks between two interchangeable providers on the
// low-latency lookup path.
//
// A Tracker keeps a bounded window of recent latencies, success and
// failure counts and a success-latency EMA per provider. Until both
// candidates have enough samples the Selector picks the primary uniformly
// at random; afterwards it picks by weight, where each candidate's score
// combines success rate (60%) with relative speed (40%).
package selector
