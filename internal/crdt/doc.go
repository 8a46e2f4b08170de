// Package crdt implements the replicated node store behind a comment thread.
//
// The store is a state-based join semilattice that can also be fed one
// operation at a time. Every field of a node is a register with a
// deterministic join:
//   - creation fields are written once and never change
//   - text (with its mentions) and updated_at are last-writer-wins by stamp
//   - the deleted flag is monotonic
//   - a node's place in its container is an RGA sequence element
//
// Joining the same operations in any order, any number of times, yields the
// same state. Conflicts are never errors.
package crdt
