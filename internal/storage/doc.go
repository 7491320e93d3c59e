// Package storage keeps the optional run journal.
//
// Every finished run is appended as a RunRecord. The journal is read back
// only to answer LastSuccess, which backs the once-per-day delivery guard.
//
// Drivers:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//   - "bolt": bbolt key/value file
package storage
