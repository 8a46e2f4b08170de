// Package store provides SQLite-backed durable storage for threadsync rooms.
//
// Two tables back a room:
//   - batches: the append-only mutation log, one row per committed or
//     received batch, keyed by the batch's content-addressed ID
//   - snapshots: the latest projected tree per room, used to seed a replica
//     before its history arrives
//
// # Invariants
//
// Idempotent appends: a batch ID is written at most once. Writing the same
// batch again is a no-op, so relays and replicas can log every batch they
// see without coordinating.
//
// Logical ordering: reads order by seq ASC, id ASC COLLATE BINARY, where
// seq is the batch's largest Lamport counter. Wall-clock created_at is
// recorded for operators and never used for ordering. Replay results do
// not depend on the order anyway, since merge is commutative.
//
// Canonical ops: the ops column holds canonical JSON, so a batch read back
// hashes to the ID it was stored under.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
