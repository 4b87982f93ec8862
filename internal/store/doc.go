// Package store persists the durable conversation ledger.
//
// # Overview
//
// The ledger is an append-only record of every message exchanged with every
// user, used for auditing and for the "repeat with voice" lookup. Users are
// created lazily on first reference; the reserved names system, bot, and
// assistant identify non-platform participants.
//
// The SQLite implementation uses modernc.org/sqlite (pure Go, no CGO) with
// WAL mode enabled.
package store
