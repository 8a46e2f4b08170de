package store

import (
	"context"
	"fmt"

	"github.com/roach88/threadsync/internal/ir"
)

// Applier merges a batch. *document.Document satisfies it.
type Applier interface {
	Apply(ir.Batch) (bool, error)
}

// ReplayResult summarizes a Replay.
type ReplayResult struct {
	Room    string
	Batches int   // batches read from the log
	Changed int   // batches that changed the target's state
	LastSeq int64 // largest seq seen
}

// Replay feeds room's log into target in log order.
//
// Applying is idempotent, so replaying into a document that already holds
// part of the history only changes what is missing.
func (s *Store) Replay(ctx context.Context, room string, target Applier) (ReplayResult, error) {
	result := ReplayResult{Room: room}

	batches, err := s.ReadBatches(ctx, room)
	if err != nil {
		return result, fmt.Errorf("replay %s: %w", room, err)
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		changed, err := target.Apply(b)
		if err != nil {
			return result, fmt.Errorf("replay %s: batch %s: %w", room, b.ID, err)
		}
		result.Batches++
		if changed {
			result.Changed++
		}
		if seq := b.MaxStamp().Seq; seq > result.LastSeq {
			result.LastSeq = seq
		}
	}
	return result, nil
}
