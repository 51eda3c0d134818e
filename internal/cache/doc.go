// Package cache implements the content-addressed provider response cache.
//
// Entries carry their own expiry. Reads treat expired entries as misses and
// delete them; a background sweep removes whatever reads never touch; and
// every write schedules a size pass that trims the oldest-by-expiry entries
// once the configured maximum is exceeded. The cache never blocks
// generation: storage failures become misses and are logged.
package cache
