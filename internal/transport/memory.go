package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// memoryInbox bounds each member's undelivered frames. A full inbox drops
// frames with a warning; the sync exchange on reconnect repairs the gap.
const memoryInbox = 4096

// Hub connects in-process transports. Frames sent by one member of a room
// reach every other connected member of that room synchronously, which
// makes multi-replica tests deterministic.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*MemoryTransport]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{rooms: make(map[string]map[*MemoryTransport]struct{}), logger: logger}
}

// Join adds a connected member named peer to room.
func (h *Hub) Join(room, peer string) *MemoryTransport {
	t := &MemoryTransport{
		hub:       h,
		room:      room,
		peer:      peer,
		connected: true,
		frames:    make(chan Frame, memoryInbox),
		outbox:    newOutbox(),
		status:    newStatusNotifier(StatusConnected),
	}
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*MemoryTransport]struct{})
		h.rooms[room] = members
	}
	members[t] = struct{}{}
	h.mu.Unlock()
	return t
}

// Members returns how many transports are in room, connected or not.
func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) leave(t *MemoryTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[t.room]
	delete(members, t)
	if len(members) == 0 {
		delete(h.rooms, t.room)
	}
}

func (h *Hub) broadcast(from *MemoryTransport, f Frame) {
	h.mu.Lock()
	targets := make([]*MemoryTransport, 0, len(h.rooms[from.room]))
	for member := range h.rooms[from.room] {
		if member != from {
			targets = append(targets, member)
		}
	}
	h.mu.Unlock()

	for _, member := range targets {
		member.deliver(f)
	}
}

// MemoryTransport is a Hub member. Disconnect and Reconnect simulate a
// network partition: frames sent while disconnected are buffered, and
// frames sent by others in the meantime never arrive.
type MemoryTransport struct {
	hub    *Hub
	room   string
	peer   string
	outbox *outbox
	status *statusNotifier

	mu        sync.Mutex
	connected bool
	closed    bool
	frames    chan Frame
}

var _ Transport = (*MemoryTransport)(nil)

// Peer returns the member's name, stamped as Frame.From on sends.
func (t *MemoryTransport) Peer() string {
	return t.peer
}

// Send implements Transport.
func (t *MemoryTransport) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Room = t.room
	f.From = t.peer

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.connected {
		t.mu.Unlock()
		t.outbox.push(f)
		return nil
	}
	t.mu.Unlock()

	t.hub.broadcast(t, f)
	return nil
}

// Frames implements Transport.
func (t *MemoryTransport) Frames() <-chan Frame {
	return t.frames
}

// Status implements Transport.
func (t *MemoryTransport) Status() Status {
	return t.status.Status()
}

// OnStatus implements Transport.
func (t *MemoryTransport) OnStatus(fn func(Status)) func() {
	return t.status.OnStatus(fn)
}

// Pending returns how many frames wait for a reconnect.
func (t *MemoryTransport) Pending() int {
	return t.outbox.len()
}

// Disconnect cuts the member off from the room.
func (t *MemoryTransport) Disconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.connected = false
	t.mu.Unlock()
	t.status.set(StatusDisconnected)
}

// Reconnect restores the member, flushes buffered frames in send order and
// then reports StatusConnected.
func (t *MemoryTransport) Reconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.connected = true
	t.mu.Unlock()

	t.status.set(StatusConnecting)
	for _, f := range t.outbox.drain() {
		t.hub.broadcast(t, f)
	}
	t.status.set(StatusConnected)
}

// Close implements Transport. Buffered frames are discarded.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	t.hub.leave(t)
	t.mu.Lock()
	close(t.frames)
	t.mu.Unlock()
	t.status.set(StatusDisconnected)
	return nil
}

func (t *MemoryTransport) deliver(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.connected {
		return
	}
	select {
	case t.frames <- f:
	default:
		t.hub.logger.Warn("memory transport inbox full, frame dropped",
			"room", t.room, "peer", t.peer, "type", f.Type)
	}
}
