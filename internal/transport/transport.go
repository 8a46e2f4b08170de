package transport

import (
	"context"
	"sync"
)

// Status is the connection state reported to consumers.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Transport is one replica's connection to its room.
type Transport interface {
	// Send ships a frame to every other member of the room. While
	// disconnected the frame is buffered and Send still returns nil.
	Send(ctx context.Context, f Frame) error

	// Frames delivers frames from other members. It is closed by Close.
	Frames() <-chan Frame

	// Status reports the current connection state.
	Status() Status

	// OnStatus registers fn for every status transition.
	OnStatus(fn func(Status)) (unsubscribe func())

	// Close leaves the room and releases resources.
	Close() error
}

// statusNotifier tracks a status and fans transitions out to callbacks.
type statusNotifier struct {
	mu      sync.Mutex
	status  Status
	subs    map[int]func(Status)
	nextSub int
}

func newStatusNotifier(initial Status) *statusNotifier {
	return &statusNotifier{status: initial, subs: make(map[int]func(Status))}
}

func (n *statusNotifier) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *statusNotifier) OnStatus(fn func(Status)) func() {
	n.mu.Lock()
	key := n.nextSub
	n.nextSub++
	n.subs[key] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, key)
		n.mu.Unlock()
	}
}

// set records s and notifies callbacks if it differs from the current
// status. Callbacks run on the caller's goroutine, in registration order.
func (n *statusNotifier) set(s Status) {
	n.mu.Lock()
	if n.status == s {
		n.mu.Unlock()
		return
	}
	n.status = s
	fns := make([]func(Status), 0, len(n.subs))
	for key := 0; key < n.nextSub; key++ {
		if fn, ok := n.subs[key]; ok {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
