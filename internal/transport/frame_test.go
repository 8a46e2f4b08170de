package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTripPayload(t *testing.T) {
	f, err := NewFrame(FrameBatch, "room-1", "a", map[string]int{"n": 1})
	require.NoError(t, err)

	data, err := Encode(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"batch","room":"room-1","from":"a","payload":{"n":1}}`, string(data))

	got, err := Decode(data)
	require.NoError(t, err)
	var payload map[string]int
	require.NoError(t, got.DecodePayload(&payload))
	assert.Equal(t, 1, payload["n"])
}

func TestFrame_NilPayloadIsOmitted(t *testing.T) {
	f, err := NewFrame(FrameSyncRequest, "room-1", "a", nil)
	require.NoError(t, err)
	data, err := Encode(f)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "payload")

	var v any
	assert.Error(t, f.DecodePayload(&v))
}

func TestDecode_RejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus","room":"r"}`))
	assert.ErrorContains(t, err, "unknown type")

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
