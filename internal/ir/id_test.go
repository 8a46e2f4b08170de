package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_Compare(t *testing.T) {
	a := ID{Seq: 1, Replica: "b"}
	b := ID{Seq: 2, Replica: "a"}
	c := ID{Seq: 2, Replica: "b"}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, -1, b.Compare(c), "same seq falls back to replica")
	assert.Equal(t, 0, c.Compare(c))
	assert.True(t, RootID.Less(a))
}

func TestID_TextRoundTrip(t *testing.T) {
	id := ID{Seq: 42, Replica: "01HZX"}
	assert.Equal(t, "42@01HZX", id.String())

	parsed, err := ParseID("42@01HZX")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	zero, err := ParseID("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.Equal(t, "", RootID.String())
}

func TestParseID_Invalid(t *testing.T) {
	for _, in := range []string{"42", "@r", "x@r", "0@r", "-1@r", "5@"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseID(in)
			assert.Error(t, err)
		})
	}
}

func TestID_JSON(t *testing.T) {
	type wrapper struct {
		ID ID `json:"id"`
	}
	data, err := json.Marshal(wrapper{ID: ID{Seq: 3, Replica: "r"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"3@r"}`, string(data))

	var back wrapper
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ID{Seq: 3, Replica: "r"}, back.ID)

	// Map keys use the text form too.
	keyed, err := json.Marshal(map[ID]int{{Seq: 1, Replica: "r"}: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"1@r":1}`, string(keyed))
}
