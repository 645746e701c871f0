// Package storage persists feedwatch's single state record.
//
// The record (frontier, item catalog, recipient registry) is always written
// whole. Every driver makes Save atomic: a crash during a write leaves
// either the previous or the new record, never a mix.
//
// Drivers:
//   - file:   JSON document, temp file + fsync + rename
//   - sqlite: single-row table, upsert inside a transaction
//   - redis:  single key, SET
//   - memory: in-process copy (tests, dry runs)
package storage
