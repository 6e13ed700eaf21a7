// Package storage defines the persistence boundary for subject data.
//
// A Store keeps one logical record per (collection, subject). Records are
// transfer values: per context set, an explicit permission map (string to
// bool, not mere presence) and an ordered parent-reference list. The engine
// converts between its live data structures and these records; backends
// only move records in and out of durable media.
//
// Backends live in subpackages (flatfile, redisstore, sqlitestore) and must
// all obey the same semantics:
//
//   - A missing record loads as (zero record, found=false, nil error).
//   - A corrupt record is logged and treated as missing, never fatal.
//   - Saving an empty record removes the persisted entry.
//   - A load failure for one subject must not abort LoadAll for the rest.
//
// # What this package must NOT do
//
//   - Import the root engine package (records are the boundary).
//   - Interpret permission semantics; records are opaque payloads here.
package storage
