package store

import (
	"context"
	"testing"

	"github.com/roach88/threadsync/internal/document"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/testutil"
)

func TestReplay_RebuildsDocument(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	source := document.New(document.WithReplicaID("a"), document.WithLogger(testutil.DiscardLogger()))
	var batches []ir.Batch
	for _, text := range []string{"one", "two"} {
		b, err := source.RunTransaction(func(tx *document.Txn) error {
			_, err := tx.CreateNode(ir.RootID, text, ir.Author{ID: "u1", Name: "Ann"}, nil)
			return err
		})
		if err != nil {
			t.Fatalf("RunTransaction() failed: %v", err)
		}
		batches = append(batches, *b)
	}
	if _, err := s.WriteBatches(ctx, "room", batches); err != nil {
		t.Fatalf("WriteBatches() failed: %v", err)
	}

	target := document.New(document.WithReplicaID("b"), document.WithLogger(testutil.DiscardLogger()))
	result, err := s.Replay(ctx, "room", target)
	if err != nil {
		t.Fatalf("Replay() failed: %v", err)
	}
	if result.Batches != 2 || result.Changed != 2 {
		t.Errorf("Replay() = %+v, want 2 batches, 2 changed", result)
	}
	if result.LastSeq != 2 {
		t.Errorf("LastSeq = %d, want 2", result.LastSeq)
	}

	want, _ := source.Digest()
	got, _ := target.Digest()
	if got != want {
		t.Errorf("replayed digest %s, want %s", got, want)
	}

	// Replaying again changes nothing.
	result, err = s.Replay(ctx, "room", target)
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed != 0 {
		t.Errorf("second Replay() changed %d batches", result.Changed)
	}
}

func TestReplay_Cancelled(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.WriteBatch(ctx, "room", createTestBatch(t, "a", 1, "x")); err != nil {
		t.Fatal(err)
	}
	cancel()

	target := document.New(document.WithLogger(testutil.DiscardLogger()))
	if _, err := s.Replay(ctx, "room", target); err == nil {
		t.Fatal("Replay() with cancelled context should fail")
	}
}
