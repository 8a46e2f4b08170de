// Package notify delivers notifications created on this replica to an
// external sink.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/threadsync/internal/document"
	"github.com/roach88/threadsync/internal/ir"
)

// Sink receives notifications.
type Sink interface {
	Deliver(ctx context.Context, n ir.Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n ir.Notification) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, n ir.Notification) error {
	return f(ctx, n)
}

// LogSink writes notifications to a logger at Info.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver implements Sink.
func (s LogSink) Deliver(_ context.Context, n ir.Notification) error {
	s.Logger.Info("notification",
		"id", n.ID.String(),
		"type", string(n.Type),
		"recipient", n.RecipientID,
		"comment", n.CommentID.String(),
		"from", n.Author.ID,
	)
	return nil
}

// Forwarder hands notifications to a sink as local transactions create
// them. Notifications merged from peers are skipped: the replica that
// created a notification is the one that delivers it. Each notification is
// delivered at most once per Forwarder.
type Forwarder struct {
	sink        Sink
	logger      *slog.Logger
	timeout     time.Duration
	unsubscribe func()

	mu   sync.Mutex
	sent map[ir.ID]struct{}
}

// NewForwarder subscribes to doc. Close stops forwarding.
func NewForwarder(doc *document.Document, sink Sink, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forwarder{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
		sent:    make(map[ir.ID]struct{}),
	}
	f.unsubscribe = doc.Subscribe(f.onEvent)
	return f
}

// Close unsubscribes from the document.
func (f *Forwarder) Close() {
	f.unsubscribe()
}

// Delivered returns how many notifications were handed to the sink.
func (f *Forwarder) Delivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *Forwarder) onEvent(ev document.Event) {
	if ev.Origin != document.OriginLocal {
		return
	}
	for _, op := range ev.Batch.Ops {
		if op.Kind != ir.OpNotify || op.Notify == nil {
			continue
		}
		f.forward(*op.Notify)
	}
}

func (f *Forwarder) forward(n ir.Notification) {
	f.mu.Lock()
	if _, dup := f.sent[n.ID]; dup {
		f.mu.Unlock()
		return
	}
	f.sent[n.ID] = struct{}{}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.sink.Deliver(ctx, n); err != nil {
		f.logger.Error("notification delivery failed",
			"notification", n.ID.String(),
			"recipient", n.RecipientID,
			"error", err,
		)
	}
}
