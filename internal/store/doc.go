// Package store provides the session event journal using SQLite.
//
// # Architecture
//
// Journal is the single interface; SQLiteStore implements it on
// modernc.org/sqlite and MockStore implements it in memory for tests.
// The journal is an audit trail. The in-memory session registry stays the
// source of truth, so losing the journal never changes who owns what.
//
// # Data Models
//
//   - Event: immutable spawn, spawn_failed, stop, stop_failed and
//     reconciled records, listed newest first
//   - PendingStop: an external stop that failed and is retried by the
//     broker's reconciler until it succeeds
//
// # Usage
//
//	j, err := store.NewSQLiteStore(store.MemoryPath)
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//
//	err = j.AppendEvent(ctx, &store.Event{Kind: store.EventSpawn, Wallet: w, SessionID: id})
//
// Timestamps are stored as fixed-width UTC strings so that text ordering in
// SQL matches chronological ordering.
package store
