package store

import (
	"context"
	"fmt"

	"github.com/roach88/threadsync/internal/ir"
)

// WriteBatch appends a batch to room's log.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are
// silently ignored and reported as inserted=false.
//
// The batch ID is recomputed before writing; a batch whose ID does not
// match its content is rejected rather than stored.
func (s *Store) WriteBatch(ctx context.Context, room string, batch ir.Batch) (inserted bool, err error) {
	if room == "" {
		return false, fmt.Errorf("write batch: room is required")
	}
	if err := checkBatchID(batch); err != nil {
		return false, fmt.Errorf("write batch: %w", err)
	}

	opsJSON, err := marshalOps(batch.Ops)
	if err != nil {
		return false, fmt.Errorf("write batch: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO batches
		(id, room, origin, seq, ops, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		batch.ID,
		room,
		batch.Origin,
		batch.MaxStamp().Seq,
		opsJSON,
		s.now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("write batch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write batch: rows affected: %w", err)
	}
	return rows > 0, nil
}

// WriteBatches appends several batches in one SQLite transaction and
// returns how many were new.
func (s *Store) WriteBatches(ctx context.Context, room string, batches []ir.Batch) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write batches: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted := 0
	for _, batch := range batches {
		if err := checkBatchID(batch); err != nil {
			return 0, fmt.Errorf("write batches: %w", err)
		}
		opsJSON, err := marshalOps(batch.Ops)
		if err != nil {
			return 0, fmt.Errorf("write batches: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO batches
			(id, room, origin, seq, ops, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, batch.ID, room, batch.Origin, batch.MaxStamp().Seq, opsJSON, s.now().UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("write batches: insert %s: %w", batch.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("write batches: rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write batches: commit: %w", err)
	}
	return inserted, nil
}

func checkBatchID(batch ir.Batch) error {
	want, err := ir.ComputeBatchID(batch)
	if err != nil {
		return err
	}
	if batch.ID != want {
		return fmt.Errorf("id %q does not match content %q", batch.ID, want)
	}
	return nil
}
