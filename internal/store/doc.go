// Package store persists session records.
//
// Backends load and save the full session collection atomically: SQLite (the
// default, via modernc.org/sqlite), Redis (one MULTI/EXEC per save), and an
// in-memory driver for tests and throwaway runs. Collection wraps a backend
// with the authoritative in-memory set, serializes every mutation behind one
// mutex, and writes the whole collection after each change so a restart
// always sees the latest committed state.
package store
