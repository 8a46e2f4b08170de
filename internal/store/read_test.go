package store

import (
	"context"
	"testing"

	"github.com/roach88/threadsync/internal/ir"
)

func TestReadBatches_DeterministicOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Written out of order; seq ties break on id.
	b3 := createTestBatch(t, "a", 3, "three")
	b1 := createTestBatch(t, "b", 1, "one")
	b1a := createTestBatch(t, "a", 1, "one-a")
	for _, b := range []ir.Batch{b3, b1, b1a} {
		if _, err := s.WriteBatch(ctx, "room", b); err != nil {
			t.Fatalf("WriteBatch() failed: %v", err)
		}
	}

	got, err := s.ReadBatches(ctx, "room")
	if err != nil {
		t.Fatalf("ReadBatches() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadBatches() returned %d batches, want 3", len(got))
	}
	first, second := b1, b1a
	if b1a.ID < b1.ID {
		first, second = b1a, b1
	}
	want := []string{first.ID, second.ID, b3.ID}
	for i, b := range got {
		if b.ID != want[i] {
			t.Errorf("batch[%d] = %s, want %s", i, b.ID, want[i])
		}
	}
}

func TestReadBatches_RoundTripPreservesID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	b := createTestBatch(t, "a", 1, "héllo <b>&</b>")

	if _, err := s.WriteBatch(ctx, "room", b); err != nil {
		t.Fatalf("WriteBatch() failed: %v", err)
	}
	got, found, err := s.ReadBatch(ctx, b.ID)
	if err != nil || !found {
		t.Fatalf("ReadBatch() = found %v, err %v", found, err)
	}
	id, err := ir.ComputeBatchID(got)
	if err != nil {
		t.Fatalf("ComputeBatchID() failed: %v", err)
	}
	if id != b.ID {
		t.Errorf("recomputed id %s, stored under %s", id, b.ID)
	}
	if got.Ops[0].Create.Text != "héllo <b>&</b>" {
		t.Errorf("text = %q", got.Ops[0].Create.Text)
	}
}

func TestReadBatches_EmptyRoom(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ReadBatches(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ReadBatches() failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ReadBatches() = %v, want empty non-nil slice", got)
	}

	_, found, err := s.ReadBatch(context.Background(), "missing")
	if err != nil || found {
		t.Errorf("ReadBatch(missing) = found %v, err %v", found, err)
	}
}

func TestReadBatches_RoomsAreIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	if _, err := s.WriteBatch(ctx, "r1", createTestBatch(t, "a", 1, "x")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteBatch(ctx, "r2", createTestBatch(t, "a", 2, "y")); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadBatches(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("r1 has %d batches, want 1", len(got))
	}

	rooms, err := s.Rooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 || rooms[0] != "r1" || rooms[1] != "r2" {
		t.Errorf("Rooms() = %v", rooms)
	}
}

func TestReadBatchesAfterAndLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSeq(ctx, "room")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Errorf("LastSeq() on empty room = %d", seq)
	}

	for i := int64(1); i <= 4; i++ {
		if _, err := s.WriteBatch(ctx, "room", createTestBatch(t, "a", i, "x")); err != nil {
			t.Fatal(err)
		}
	}
	seq, err = s.LastSeq(ctx, "room")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 4 {
		t.Errorf("LastSeq() = %d, want 4", seq)
	}

	after, err := s.ReadBatchesAfter(ctx, "room", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 {
		t.Errorf("ReadBatchesAfter(2) returned %d batches, want 2", len(after))
	}
}
