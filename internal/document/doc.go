// Package document is the explicit handle to one replicated comment thread.
//
// A Document owns a node store, a Lamport clock and a subscriber list.
// Local changes go through RunTransaction, which stages every mutation on a
// copy of the store and commits them as one batch; remote batches go
// through Apply. Either way, subscribers see exactly one event per commit,
// in commit order.
//
// Thread-safety model:
//   - RunTransaction, Apply, Seed: serialized by the document; a remote
//     batch never lands inside a local transaction
//   - Subscribe handlers run outside the lock and may start transactions
//   - Reads (Project, Node, Notifications, ...): safe from any goroutine
//
// Many documents may coexist in one process; there is no global state.
package document
