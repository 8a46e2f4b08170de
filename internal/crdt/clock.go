package crdt

import (
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/threadsync/internal/ir"
)

// NewReplicaID returns a fresh random replica identifier.
//
// The replica ID is the salt that makes every stamp unique without
// coordination. ULIDs carry 80 bits of randomness, so two replicas
// colliding is negligible.
func NewReplicaID() string {
	return ulid.Make().String()
}

// Clock is a Lamport clock bound to one replica.
//
// Every stamp the replica issues comes from Next. Observe advances the
// counter past stamps seen on remote operations, so a local write made
// after seeing a remote write always carries a larger stamp. This is what
// makes "later write wins" agree with causality.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// Next never fails.
type Clock struct {
	replica string
	seq     atomic.Int64
}

// NewClock creates a clock for replica starting at 0.
func NewClock(replica string) *Clock {
	return &Clock{replica: replica}
}

// NewClockAt creates a clock for replica resuming at start.
// Used when a replica reopens its log.
func NewClockAt(replica string, start int64) *Clock {
	c := &Clock{replica: replica}
	c.seq.Store(start)
	return c
}

// Replica returns the replica identifier stamped on every ID.
func (c *Clock) Replica() string {
	return c.replica
}

// Next returns a new stamp strictly greater than every stamp this clock has
// issued or observed.
func (c *Clock) Next() ir.ID {
	return ir.ID{Seq: c.seq.Add(1), Replica: c.replica}
}

// Observe advances the counter to at least seq.
func (c *Clock) Observe(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Current returns the counter without incrementing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
