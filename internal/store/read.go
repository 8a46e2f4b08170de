package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/threadsync/internal/ir"
)

// ReadBatches returns room's log in deterministic order:
// ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the room has no batches.
func (s *Store) ReadBatches(ctx context.Context, room string) ([]ir.Batch, error) {
	return s.readBatches(ctx, `
		SELECT id, origin, ops
		FROM batches
		WHERE room = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, room)
}

// ReadBatchesAfter returns room's batches whose seq is greater than seq,
// in the same order as ReadBatches.
func (s *Store) ReadBatchesAfter(ctx context.Context, room string, seq int64) ([]ir.Batch, error) {
	return s.readBatches(ctx, `
		SELECT id, origin, ops
		FROM batches
		WHERE room = ? AND seq > ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, room, seq)
}

func (s *Store) readBatches(ctx context.Context, query string, args ...any) ([]ir.Batch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []ir.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// ReadBatch returns one batch by ID. Returns found=false if it was never
// written.
func (s *Store) ReadBatch(ctx context.Context, id string) (ir.Batch, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, origin, ops FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return ir.Batch{}, false, nil
	}
	if err != nil {
		return ir.Batch{}, false, err
	}
	return b, true, nil
}

// CountBatches returns the number of batches logged for room.
func (s *Store) CountBatches(ctx context.Context, room string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE room = ?`, room).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}

// LastSeq returns the largest seq logged for room, or 0 for an empty room.
// A replica resumes its Lamport clock from here.
func (s *Store) LastSeq(ctx context.Context, room string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM batches WHERE room = ?`, room).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Rooms returns every room with at least one batch or snapshot, sorted.
func (s *Store) Rooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room FROM batches
		UNION
		SELECT room FROM snapshots
		ORDER BY room COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	rooms := []string{}
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (ir.Batch, error) {
	var (
		b       ir.Batch
		opsJSON string
	)
	if err := row.Scan(&b.ID, &b.Origin, &opsJSON); err != nil {
		if err == sql.ErrNoRows {
			return ir.Batch{}, err
		}
		return ir.Batch{}, fmt.Errorf("scan batch: %w", err)
	}
	ops, err := unmarshalOps(opsJSON)
	if err != nil {
		return ir.Batch{}, fmt.Errorf("batch %s: %w", b.ID, err)
	}
	b.Ops = ops
	return b, nil
}
