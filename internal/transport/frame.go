// Package transport moves frames between replicas of the same room.
//
// A room groups every replica collaborating on one document. Frames carry
// committed batches, sync requests and responses, and presence updates.
// Implementations buffer outbound frames while disconnected and flush them
// on reconnect: a dropped connection delays convergence but loses nothing.
package transport

import (
	"encoding/json"
	"fmt"
)

// FrameType tags the payload of a Frame.
type FrameType string

const (
	// FrameBatch carries one committed ir.Batch.
	FrameBatch FrameType = "batch"
	// FrameSyncRequest asks peers for their full state.
	FrameSyncRequest FrameType = "sync_request"
	// FrameSyncResponse answers a sync request with an ir.Batch snapshot.
	FrameSyncResponse FrameType = "sync_response"
	// FramePresence carries one presence.Session.
	FramePresence FrameType = "presence"
)

// Frame is the wire unit. It is JSON encoded on every transport.
type Frame struct {
	Type    FrameType       `json:"type"`
	Room    string          `json:"room"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a frame with payload JSON encoded. A nil payload leaves
// Payload empty.
func NewFrame(typ FrameType, room, from string, payload any) (Frame, error) {
	f := Frame{Type: typ, Room: room, From: from}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	f.Payload = raw
	return f, nil
}

// DecodePayload unmarshals the payload into v.
func (f Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// Encode marshals a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a wire frame and checks its type.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case FrameBatch, FrameSyncRequest, FrameSyncResponse, FramePresence:
		return f, nil
	}
	return Frame{}, fmt.Errorf("decode frame: unknown type %q", f.Type)
}
