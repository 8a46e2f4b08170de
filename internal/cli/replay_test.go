package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadsync/internal/document"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/store"
	"github.com/roach88/threadsync/internal/testutil"
	"github.com/roach88/threadsync/internal/thread"
)

var (
	ann = ir.Author{ID: "u1", Name: "Ann"}
	bob = ir.Author{ID: "u2", Name: "Bob"}
)

// seedLog writes a small thread for room into the database at path and
// returns the document it was built with.
func seedLog(t *testing.T, path, room string) *document.Document {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	clock := testutil.NewDeterministicClock(testutil.DefaultBase, 0)
	doc := document.New(
		document.WithReplicaID("seed"),
		document.WithNow(clock.Now),
		document.WithLogger(testutil.DiscardLogger()),
	)
	var batches []ir.Batch
	unsubscribe := doc.Subscribe(func(ev document.Event) { batches = append(batches, ev.Batch) })
	defer unsubscribe()

	svc := thread.NewService(doc, []ir.Author{ann, bob}, testutil.DiscardLogger())
	parent, err := svc.AddComment(ann, "hello")
	require.NoError(t, err)
	_, err = svc.Reply(bob, parent, "hi @Ann")
	require.NoError(t, err)

	n, err := st.WriteBatches(ctx, room, batches)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	return doc
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	out, err := execute(t, "replay", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No rooms found")
}

func TestReplayRoom(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	seedLog(t, dbPath, "r1")

	out, err := execute(t, "replay", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ r1: 2 batches, 2 visible comments")
	assert.Contains(t, out, `- 1@seed Ann: "hello" (edited)`)
	assert.Contains(t, out, `  - 3@seed Bob: "hi @Ann"`)
}

func TestReplayJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	doc := seedLog(t, dbPath, "r1")
	want, err := doc.Digest()
	require.NoError(t, err)

	out, err := execute(t, "--format", "json", "replay", "--db", dbPath, "--room", "r1")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllDeterministic)
	require.Len(t, resp.Data.Rooms, 1)
	room := resp.Data.Rooms[0]
	assert.Equal(t, "r1", room.Room)
	assert.Equal(t, want, room.Digest, "replayed state must equal the original")
	require.Len(t, room.Tree, 1)
	assert.Len(t, room.Tree[0].Replies, 1)
}

func TestReplayUnknownRoomIsEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	seedLog(t, dbPath, "r1")

	out, err := execute(t, "replay", "--db", dbPath, "--room", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ other: 0 batches, 0 visible comments")
	assert.Contains(t, out, "(empty)")
}
