// Package storage persists the alert counters.
//
// Drivers:
//   - "file": a single JSON document rewritten atomically after every change
//     (the format the dashboard and older installs read)
//   - "sqlite": a one-row table in an SQLite database (modernc.org/sqlite, no cgo)
package storage
