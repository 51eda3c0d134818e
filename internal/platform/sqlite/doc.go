// Package sqlite provides local single-file storage backed by the pure-Go
// modernc.org/sqlite driver: a response cache store and the credential
// vault's sealed-secret table.
package sqlite
