package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threadsync.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestConfigCheckValid(t *testing.T) {
	path := writeConfig(t, `
room: "design-review"
users: [{id: "u1", name: "Ann"}]
`)
	out, err := execute(t, "config", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "room design-review")
	assert.Contains(t, out, "snapshots sqlite, 1 users")

	out, err = execute(t, "--format", "json", "config", "check", path)
	require.NoError(t, err)
	var resp struct {
		Status string        `json:"status"`
		Data   ConfigSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ConfigSummary{
		Room:     "design-review",
		Relay:    "ws://localhost:8787",
		Database: "threadsync.db",
		Snapshot: "sqlite",
		Users:    1,
	}, resp.Data)
}

func TestConfigCheckInvalid(t *testing.T) {
	path := writeConfig(t, `room: "r", snapshot: backend: "mongo"`)

	_, err := execute(t, "config", "check", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := execute(t, "--format", "json", "config", "check", path)
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_CONFIG", resp.Error.Code)
}

func TestConfigFlagSuppliesRoom(t *testing.T) {
	path := writeConfig(t, `room: "from-file"`)
	dbPath := filepath.Join(t.TempDir(), "test.db")

	out, err := execute(t, "--config", path, "tree", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshot stored for room from-file.")

	out, err = execute(t, "--config", path, "tree", "--db", dbPath, "--room", "override")
	require.NoError(t, err)
	assert.Contains(t, out, "room override.")
}

func TestConfigFlagBadFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.cue"), "tree")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
