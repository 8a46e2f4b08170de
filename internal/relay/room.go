package relay

import (
	"log/slog"
	"sync"
)

type room struct {
	name        string
	logger      *slog.Logger
	unsubscribe func() error

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newRoom(name string, logger *slog.Logger) *room {
	return &room{name: name, logger: logger, clients: make(map[*client]struct{})}
}

func (r *room) add(c *client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
}

// remove drops c and reports whether the room is now empty.
func (r *room) remove(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		c.close()
	}
	return len(r.clients) == 0
}

func (r *room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// broadcast queues data for every member except those connected as from.
// A member whose queue is full is disconnected; it resyncs on reconnect.
func (r *room) broadcast(data []byte, from string) {
	r.mu.Lock()
	targets := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		if c.peer != from {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			r.logger.Warn("slow client disconnected", "room", r.name, "peer", c.peer)
			c.close()
		}
	}
}

func (r *room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		c.close()
	}
}
