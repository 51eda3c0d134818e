// Package governor enforces per-provider spending and request caps.
//
// Usage is kept in a ledger keyed by provider and period ("daily:2026-05-01",
// "monthly:2026-05"). A new day or month simply reads a new key, so caps roll
// over without deleting history. When the ledger cannot be reached the
// governor fails open and says so once in the log.
package governor
