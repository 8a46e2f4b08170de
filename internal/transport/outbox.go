package transport

import "sync"

// outbox is an unbounded FIFO of frames waiting for a connection.
//
// The signal channel (buffer 1) coalesces wake-ups so a writer goroutine
// can select on it alongside its context.
type outbox struct {
	mu     sync.Mutex
	frames []Frame
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) push(f Frame) {
	o.mu.Lock()
	o.frames = append(o.frames, f)
	o.mu.Unlock()
	o.wake()
}

// pushFront returns a frame that failed to send to the head of the queue.
func (o *outbox) pushFront(f Frame) {
	o.mu.Lock()
	o.frames = append([]Frame{f}, o.frames...)
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) pop() (Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		return Frame{}, false
	}
	f := o.frames[0]
	o.frames[0] = Frame{}
	o.frames = o.frames[1:]
	return f, true
}

// drain removes and returns everything queued.
func (o *outbox) drain() []Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.frames
	o.frames = nil
	return out
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *outbox) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}
