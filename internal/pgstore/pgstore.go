// Package pgstore keeps room snapshots in Postgres, for deployments where
// several mirrors share one database.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/roach88/threadsync/internal/ir"
)

// ThreadSnapshot is one room's latest projected tree.
type ThreadSnapshot struct {
	Room      string    `gorm:"primaryKey;size:255"`
	Tree      string    `gorm:"type:jsonb;not null"`
	Version   int64     `gorm:"not null;default:1"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName pins the table name.
func (ThreadSnapshot) TableName() string {
	return "thread_snapshots"
}

// Store saves and loads snapshots through gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ThreadSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save upserts room's snapshot and bumps its version.
func (s *Store) Save(ctx context.Context, room string, tree []ir.ProjectedComment) error {
	row, err := newRow(room, tree, s.now())
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "room"}},
		DoUpdates: clause.Assignments(map[string]any{
			"tree":       row.Tree,
			"version":    gorm.Expr("thread_snapshots.version + 1"),
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", room, err)
	}
	return nil
}

// Load returns room's snapshot, or nil if there is none.
func (s *Store) Load(ctx context.Context, room string) ([]ir.ProjectedComment, error) {
	var row ThreadSnapshot
	err := s.db.WithContext(ctx).First(&row, "room = ?", room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", room, err)
	}
	return row.decode()
}

func newRow(room string, tree []ir.ProjectedComment, now time.Time) (ThreadSnapshot, error) {
	if room == "" {
		return ThreadSnapshot{}, errors.New("save snapshot: room is required")
	}
	if tree == nil {
		tree = []ir.ProjectedComment{}
	}
	data, err := ir.MarshalCanonical(tree)
	if err != nil {
		return ThreadSnapshot{}, fmt.Errorf("encode snapshot %s: %w", room, err)
	}
	return ThreadSnapshot{Room: room, Tree: string(data), Version: 1, UpdatedAt: now.UTC()}, nil
}

func (r ThreadSnapshot) decode() ([]ir.ProjectedComment, error) {
	tree := []ir.ProjectedComment{}
	if err := json.Unmarshal([]byte(r.Tree), &tree); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", r.Room, err)
	}
	return tree, nil
}
