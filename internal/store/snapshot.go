package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/threadsync/internal/ir"
)

// Snapshot is the stored projection of a room.
type Snapshot struct {
	Room      string
	Tree      []ir.ProjectedComment
	Version   uint64
	UpdatedAt time.Time
}

// SaveSnapshot replaces room's snapshot. A snapshot older than the stored
// one (by version) is ignored so that a delayed save cannot roll back a
// newer one.
func (s *Store) SaveSnapshot(ctx context.Context, room string, tree []ir.ProjectedComment, version uint64) error {
	treeJSON, err := marshalTree(tree)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (room, tree, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room) DO UPDATE SET
			tree = excluded.tree,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE excluded.version >= snapshots.version
	`, room, treeJSON, int64(version), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns room's snapshot. Returns found=false if none was
// saved.
func (s *Store) LoadSnapshot(ctx context.Context, room string) (Snapshot, bool, error) {
	var (
		treeJSON  string
		version   int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tree, version, updated_at FROM snapshots WHERE room = ?
	`, room).Scan(&treeJSON, &version, &updatedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	tree, err := unmarshalTree(treeJSON)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	return Snapshot{
		Room:      room,
		Tree:      tree,
		Version:   uint64(version),
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, true, nil
}

// Snapshots adapts a Store to the replica's snapshot interface. Each save
// bumps a per-room version so the newest save always wins.
type Snapshots struct {
	store *Store
}

// NewSnapshots wraps s.
func NewSnapshots(s *Store) *Snapshots {
	return &Snapshots{store: s}
}

// Save stores tree as room's latest snapshot.
func (a *Snapshots) Save(ctx context.Context, room string, tree []ir.ProjectedComment) error {
	current, _, err := a.store.LoadSnapshot(ctx, room)
	if err != nil {
		return err
	}
	return a.store.SaveSnapshot(ctx, room, tree, current.Version+1)
}

// Load returns room's latest snapshot, or nil if there is none.
func (a *Snapshots) Load(ctx context.Context, room string) ([]ir.ProjectedComment, error) {
	snap, ok, err := a.store.LoadSnapshot(ctx, room)
	if err != nil || !ok {
		return nil, err
	}
	return snap.Tree, nil
}
