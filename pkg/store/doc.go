// Package store deduplicates ad records across pages, accounts and runs.
//
// MemoryStore is the run's source of truth: every normalized record is
// upserted into it and the exporter reads its sorted snapshot. Upserts are
// serialized by one lock, and Merge defines how two observations of the
// same ad combine. Persistent stores, such as the PostgreSQL one, apply the
// same rule.
package store
