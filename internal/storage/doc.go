// Package storage persists tasks.
//
// Two drivers implement Store:
//   - "file": a single JSON document rewritten atomically (temp file + rename)
//   - "sqlite": an SQLite database through the pure-Go modernc.org/sqlite driver
//
// Lists are ordered by last update, newest first. The daemon watches Path()
// to notice changes made by other processes.
package storage
