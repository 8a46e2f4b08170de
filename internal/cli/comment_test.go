package cli

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadsync/internal/relay"
	"github.com/roach88/threadsync/internal/store"
	"github.com/roach88/threadsync/internal/testutil"
)

func startRelay(t *testing.T) string {
	t.Helper()
	history, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	s := relay.NewServer(relay.WithHistory(history), relay.WithLogger(testutil.DiscardLogger()))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.CloseRooms()
		srv.Close()
		history.Close()
	})
	return srv.URL
}

func commentJSON(t *testing.T, args ...string) CommentResult {
	t.Helper()
	out, err := execute(t, append([]string{"--format", "json", "comment"}, args...)...)
	require.NoError(t, err, out)
	var resp struct {
		Status string        `json:"status"`
		Data   CommentResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestCommentRequiresText(t *testing.T) {
	_, err := execute(t, "comment", "--room", "r1", "--as", "u1", "--db", filepath.Join(t.TempDir(), "a.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCommentExclusiveFlags(t *testing.T) {
	_, err := execute(t, "comment", "--room", "r1", "--as", "u1", "--edit", "1@a", "--delete", "1@a")
	require.Error(t, err)
}

func TestCommentInvalidID(t *testing.T) {
	relayURL := startRelay(t)
	_, err := execute(t, "comment", "--room", "r1", "--as", "u1",
		"--relay", relayURL, "--db", filepath.Join(t.TempDir(), "a.db"),
		"--settle", "10ms", "--reply-to", "not-an-id", "hi")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCommentThroughRelay(t *testing.T) {
	relayURL := startRelay(t)
	dbA := filepath.Join(t.TempDir(), "a.db")
	dbB := filepath.Join(t.TempDir(), "b.db")

	added := commentJSON(t, "--room", "r1", "--relay", relayURL, "--db", dbA,
		"--as", "u1", "--settle", "50ms", "hello")
	assert.Equal(t, "add", added.Action)
	assert.Equal(t, "r1", added.Room)
	assert.True(t, added.Delivered)
	require.NotEmpty(t, added.CommentID)

	// b has never seen the room; the relay's history fills it in before the reply.
	replied := commentJSON(t, "--room", "r1", "--relay", relayURL, "--db", dbB,
		"--as", "u2", "--settle", "500ms", "--reply-to", added.CommentID, "welcome")
	assert.Equal(t, "reply", replied.Action)
	assert.True(t, replied.Delivered)

	out, err := execute(t, "replay", "--db", dbB, "--room", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, `u1: "hello" (edited)`)
	assert.Contains(t, out, `u2: "welcome"`)
}

func TestCommentEditByOtherUserRejected(t *testing.T) {
	relayURL := startRelay(t)
	db := filepath.Join(t.TempDir(), "a.db")

	added := commentJSON(t, "--room", "r1", "--relay", relayURL, "--db", db,
		"--as", "u1", "--settle", "50ms", "mine")

	_, err := execute(t, "comment", "--room", "r1", "--relay", relayURL, "--db", db,
		"--as", "u2", "--settle", "50ms", "--edit", added.CommentID, "theirs")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "edit rejected")
}

func TestCommentOffline(t *testing.T) {
	db := filepath.Join(t.TempDir(), "a.db")

	out, err := execute(t, "comment", "--room", "r1", "--relay", "ws://127.0.0.1:1",
		"--db", db, "--as", "u1", "--wait", "100ms", "offline note")
	require.NoError(t, err, out)
	assert.Contains(t, out, "saved locally, not yet delivered")

	out, err = execute(t, "replay", "--db", db, "--room", "r1")
	require.NoError(t, err)
	assert.Contains(t, out, `u1: "offline note"`)
}
