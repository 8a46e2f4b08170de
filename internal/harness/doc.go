// Package harness runs multi-replica convergence scenarios.
//
// A scenario starts several replicas of one room on an in-memory hub,
// drives them through the thread service, partitions and heals them, and
// then checks that every replica shows the same thread.
//
// # Scenario Format
//
//	name: concurrent_replies
//	description: "Two replicas reply to the same parent while apart"
//	replicas: [a, b]
//	users:
//	  - {id: u1, name: Ann}
//	  - {id: u2, name: Bob}
//	steps:
//	  - {replica: a, action: add, as: u1, text: "parent", ref: p}
//	  - {action: sync}
//	  - {replica: a, action: reply, as: u1, target: p, text: "R1", ref: r1}
//	  - {replica: b, action: reply, as: u2, target: p, text: "R2", ref: r2}
//	assertions:
//	  - type: converged
//	  - type: order
//	    target: p
//	    refs: [r2, r1]
//
// Frames are only delivered by sync steps, so every step between two syncs
// is concurrent with the steps other replicas take in the same window. The
// room is settled once more after the last step.
//
// # Deterministic Testing
//
// Replica IDs are the scenario's replica names and every replica has its
// own testutil.DeterministicClock, so stamps and timestamps are identical
// across runs. Outlines name comments by their refs, which makes them
// suitable for golden files.
package harness
