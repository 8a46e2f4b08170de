package pgstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadsync/internal/ir"
)

func TestRow_RoundTrip(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tree := []ir.ProjectedComment{{
		ID:        ir.ID{Seq: 1, Replica: "a"},
		Text:      "hello <b>",
		Author:    ir.Author{ID: "u1", Name: "Ann"},
		CreatedAt: created,
		Mentions:  []ir.Mention{},
		Replies:   []ir.ProjectedComment{},
	}}

	row, err := newRow("room", tree, created.In(time.FixedZone("X", 3600)))
	require.NoError(t, err)
	assert.Equal(t, "room", row.Room)
	assert.EqualValues(t, 1, row.Version)
	assert.Equal(t, time.UTC, row.UpdatedAt.Location())
	assert.Contains(t, row.Tree, "hello <b>", "HTML is not escaped")

	got, err := row.decode()
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestRow_NilTreeIsEmptyArray(t *testing.T) {
	row, err := newRow("room", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "[]", row.Tree)

	got, err := row.decode()
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRow_Errors(t *testing.T) {
	_, err := newRow("", nil, time.Now())
	assert.Error(t, err)

	_, err = ThreadSnapshot{Room: "r", Tree: "{broken"}.decode()
	assert.ErrorContains(t, err, "decode snapshot r")
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "thread_snapshots", ThreadSnapshot{}.TableName())
}

func TestOpen_UnreachableDatabase(t *testing.T) {
	_, err := Open("host=127.0.0.1 port=1 user=x dbname=x sslmode=disable connect_timeout=1")
	assert.Error(t, err)
}
