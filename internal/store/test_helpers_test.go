package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/threadsync/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// createTestBatch creates a batch holding one top-level comment stamped
// seq@replica.
func createTestBatch(t *testing.T, replica string, seq int64, text string) ir.Batch {
	t.Helper()
	id := ir.ID{Seq: seq, Replica: replica}
	b, err := ir.NewBatch(replica, []ir.Op{
		{Kind: ir.OpCreate, Stamp: id, Target: id, Create: &ir.CreatePayload{
			Author:    ir.Author{ID: "u1", Name: "Ann"},
			Text:      text,
			CreatedAt: testTime,
		}},
		{Kind: ir.OpInsert, Stamp: id, Target: id, Insert: &ir.InsertPayload{}},
	})
	if err != nil {
		t.Fatalf("NewBatch() failed: %v", err)
	}
	return b
}
