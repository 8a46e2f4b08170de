package relay

import (
	"context"
	"encoding/json"

	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/transport"
)

// relayPeer is the From of frames the relay writes itself.
const relayPeer = "relay"

// handleFrame routes one frame read from c. The relay stamps Room and
// From itself so members cannot impersonate each other.
func (s *Server) handleFrame(ctx context.Context, rm *room, c *client, data []byte) {
	f, err := transport.Decode(data)
	if err != nil {
		c.logger.Warn("malformed frame dropped", "error", err)
		return
	}
	f.Room = rm.name
	f.From = c.peer

	switch f.Type {
	case transport.FrameBatch:
		s.record(ctx, rm.name, f, c)
	case transport.FrameSyncRequest:
		s.answerFromHistory(ctx, rm.name, c)
	}

	out, err := transport.Encode(f)
	if err != nil {
		c.logger.Error("re-encode frame", "type", f.Type, "error", err)
		return
	}
	rm.broadcast(out, c.peer)
	if s.backplane != nil {
		msg, err := json.Marshal(envelope{Instance: s.instance, Frame: out})
		if err != nil {
			c.logger.Error("encode backplane envelope", "error", err)
			return
		}
		if err := s.backplane.Publish(ctx, rm.name, msg); err != nil {
			c.logger.Error("backplane publish failed", "error", err)
		}
	}
}

// envelope wraps frames on the backplane so an instance can skip its own.
type envelope struct {
	Instance string          `json:"instance"`
	Frame    json.RawMessage `json:"frame"`
}

// handleRemote delivers a frame published by another relay instance.
func (s *Server) handleRemote(rm *room, msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.logger.Warn("malformed backplane message", "room", rm.name, "error", err)
		return
	}
	if env.Instance == s.instance {
		return
	}
	f, err := transport.Decode(env.Frame)
	if err != nil {
		s.logger.Warn("malformed backplane frame", "room", rm.name, "error", err)
		return
	}
	if f.Type == transport.FrameBatch {
		s.record(context.Background(), rm.name, f, nil)
	}
	rm.broadcast(env.Frame, f.From)
}

func (s *Server) record(ctx context.Context, room string, f transport.Frame, c *client) {
	if s.history == nil {
		return
	}
	var b ir.Batch
	if err := f.DecodePayload(&b); err != nil {
		s.logger.Warn("batch frame without batch", "room", room, "from", f.From, "error", err)
		return
	}
	if _, err := s.history.WriteBatch(ctx, room, b); err != nil {
		s.logger.Error("history write failed", "room", room, "batch", b.ID, "error", err)
	}
}

// answerFromHistory replays the room's log to c alone.
func (s *Server) answerFromHistory(ctx context.Context, room string, c *client) {
	if s.history == nil {
		return
	}
	batches, err := s.history.ReadBatches(ctx, room)
	if err != nil {
		s.logger.Error("history read failed", "room", room, "error", err)
		return
	}
	for _, b := range batches {
		f, err := transport.NewFrame(transport.FrameSyncResponse, room, relayPeer, b)
		if err != nil {
			s.logger.Error("encode history frame", "batch", b.ID, "error", err)
			return
		}
		data, err := transport.Encode(f)
		if err != nil {
			s.logger.Error("encode history frame", "batch", b.ID, "error", err)
			return
		}
		if !c.enqueue(data) {
			return
		}
	}
	c.logger.Debug("answered sync from history", "batches", len(batches))
}
