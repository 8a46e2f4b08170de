// Package replica binds a Document to the outside world: a room transport,
// a presence channel, a local mutation log and a snapshot store.
//
// Local commits are broadcast and logged. Frames from peers are merged.
// Each time the transport (re)connects the replica asks its peers for
// their state and pushes its own, which covers anything either side
// committed while apart.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/threadsync/internal/document"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/presence"
	"github.com/roach88/threadsync/internal/transport"
)

// DefaultDebounce delays snapshot saves so a burst of edits costs one write.
const DefaultDebounce = 2 * time.Second

// SnapshotStore persists a room's projected tree. It only speeds up cold
// starts; the log and peers stay authoritative.
type SnapshotStore interface {
	Save(ctx context.Context, room string, tree []ir.ProjectedComment) error
	Load(ctx context.Context, room string) ([]ir.ProjectedComment, error)
}

// Log is the durable mutation log. *store.Store satisfies it.
type Log interface {
	WriteBatch(ctx context.Context, room string, batch ir.Batch) (bool, error)
	ReadBatches(ctx context.Context, room string) ([]ir.Batch, error)
}

// Replica is one participant in a room.
type Replica struct {
	room      string
	doc       *document.Document
	tr        transport.Transport
	logger    *slog.Logger
	log       Log
	snapshots SnapshotStore
	debounce  time.Duration

	presence  *presence.Channel
	session   string
	heartbeat time.Duration

	unsubscribe []func()

	saveMu    sync.Mutex
	saveTimer *time.Timer
	dirty     bool
	closed    bool
}

// Option configures a Replica.
type Option func(*Replica)

// WithLog logs every batch the document commits or merges.
func WithLog(l Log) Option {
	return func(r *Replica) {
		r.log = l
	}
}

// WithSnapshots saves the projected tree after changes and seeds from it
// when the log is empty.
func WithSnapshots(s SnapshotStore) Option {
	return func(r *Replica) {
		r.snapshots = s
	}
}

// WithDebounce sets the snapshot save delay. Zero or less saves on every
// change.
func WithDebounce(d time.Duration) Option {
	return func(r *Replica) {
		r.debounce = d
	}
}

// WithPresence shares ch with the room. A non-empty session is this
// replica's own session: Run keeps it alive and Close announces its
// departure.
func WithPresence(ch *presence.Channel, session string, heartbeat time.Duration) Option {
	return func(r *Replica) {
		r.presence = ch
		r.session = session
		r.heartbeat = heartbeat
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Replica) {
		r.logger = logger
	}
}

// New wires doc to tr for room.
func New(room string, doc *document.Document, tr transport.Transport, opts ...Option) (*Replica, error) {
	if room == "" {
		return nil, errors.New("replica: room is required")
	}
	r := &Replica{
		room:     room,
		doc:      doc,
		tr:       tr,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("room", room, "replica", doc.ReplicaID())

	r.unsubscribe = append(r.unsubscribe,
		doc.Subscribe(r.onCommit),
		tr.OnStatus(r.onStatus),
	)
	if r.presence != nil {
		r.presence.SetBroadcast(r.broadcastPresence)
	}
	return r, nil
}

// Document returns the replica's document.
func (r *Replica) Document() *document.Document {
	return r.doc
}

// Presence returns the presence channel, or nil.
func (r *Replica) Presence() *presence.Channel {
	return r.presence
}

// Room returns the room name.
func (r *Replica) Room() string {
	return r.room
}

// Bootstrap loads local state before joining the room. The log wins when
// it holds anything; otherwise the snapshot store seeds the document.
func (r *Replica) Bootstrap(ctx context.Context) error {
	if r.log != nil {
		batches, err := r.log.ReadBatches(ctx, r.room)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if len(batches) > 0 {
			for _, b := range batches {
				if _, err := r.doc.Apply(b); err != nil {
					return fmt.Errorf("bootstrap: batch %s: %w", b.ID, err)
				}
			}
			r.logger.Info("bootstrapped from log", "batches", len(batches))
			return nil
		}
	}
	if r.snapshots != nil {
		tree, err := r.snapshots.Load(ctx, r.room)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if len(tree) > 0 {
			if err := r.doc.Seed(tree); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			r.logger.Info("seeded from snapshot", "roots", len(tree))
		}
	}
	return nil
}

// Sync asks peers for their state and pushes ours.
func (r *Replica) Sync(ctx context.Context) error {
	req, err := transport.NewFrame(transport.FrameSyncRequest, r.room, "", nil)
	if err != nil {
		return err
	}
	if err := r.tr.Send(ctx, req); err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	return r.pushSnapshot(ctx)
}

func (r *Replica) pushSnapshot(ctx context.Context) error {
	snap, err := r.doc.Snapshot()
	if err != nil {
		return err
	}
	if len(snap.Ops) == 0 {
		return nil
	}
	f, err := transport.NewFrame(transport.FrameSyncResponse, r.room, "", snap)
	if err != nil {
		return err
	}
	if err := r.tr.Send(ctx, f); err != nil {
		return fmt.Errorf("sync response: %w", err)
	}
	return nil
}

// Handle processes one frame from the room.
func (r *Replica) Handle(ctx context.Context, f transport.Frame) error {
	if f.Room != "" && f.Room != r.room {
		r.logger.Warn("frame for another room dropped", "frame_room", f.Room, "type", f.Type)
		return nil
	}

	switch f.Type {
	case transport.FrameBatch, transport.FrameSyncResponse:
		var b ir.Batch
		if err := f.DecodePayload(&b); err != nil {
			return err
		}
		changed, err := r.doc.Apply(b)
		if err != nil {
			r.logger.Warn("rejected batch", "from", f.From, "batch", b.ID, "error", err)
			return err
		}
		r.logger.Debug("merged frame", "type", f.Type, "from", f.From, "batch", b.ID, "changed", changed)
		return nil

	case transport.FrameSyncRequest:
		return r.pushSnapshot(ctx)

	case transport.FramePresence:
		if r.presence == nil {
			return nil
		}
		var s presence.Session
		if err := f.DecodePayload(&s); err != nil {
			return err
		}
		r.presence.Apply(s)
		return nil
	}
	return fmt.Errorf("unhandled frame type %q", f.Type)
}

// Poll handles every frame already waiting and returns how many it saw.
// It never blocks.
func (r *Replica) Poll(ctx context.Context) int {
	n := 0
	for {
		select {
		case f, ok := <-r.tr.Frames():
			if !ok {
				return n
			}
			n++
			if err := r.Handle(ctx, f); err != nil {
				r.logger.Warn("frame failed", "type", f.Type, "from", f.From, "error", err)
			}
		default:
			return n
		}
	}
}

// Run syncs with the room and handles frames until ctx is done or the
// transport closes. Pending snapshot saves are flushed before it returns.
func (r *Replica) Run(ctx context.Context) error {
	defer func() {
		if err := r.Flush(context.Background()); err != nil {
			r.logger.Error("final snapshot save failed", "error", err)
		}
	}()

	if r.tr.Status() == transport.StatusConnected {
		if err := r.Sync(ctx); err != nil {
			r.logger.Warn("initial sync failed", "error", err)
		}
	}
	if r.presence != nil && r.session != "" {
		go r.presence.Heartbeat(ctx, r.session, r.heartbeat)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-r.tr.Frames():
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, f); err != nil {
				r.logger.Warn("frame failed", "type", f.Type, "from", f.From, "error", err)
			}
		}
	}
}

// Close detaches the replica, announces the local session's departure and
// flushes any pending snapshot. The transport is left open.
func (r *Replica) Close(ctx context.Context) error {
	for _, fn := range r.unsubscribe {
		fn()
	}
	r.unsubscribe = nil
	if r.presence != nil && r.session != "" {
		r.presence.Leave(r.session)
	}
	if r.presence != nil {
		r.presence.SetBroadcast(nil)
	}
	err := r.Flush(ctx)

	r.saveMu.Lock()
	r.closed = true
	r.saveMu.Unlock()
	return err
}

func (r *Replica) onStatus(s transport.Status) {
	r.logger.Info("connection status", "status", string(s))
	if s != transport.StatusConnected {
		return
	}
	if err := r.Sync(context.Background()); err != nil {
		r.logger.Error("sync after reconnect failed", "error", err)
	}
}

func (r *Replica) onCommit(ev document.Event) {
	ctx := context.Background()
	if ev.Origin == document.OriginLocal {
		f, err := transport.NewFrame(transport.FrameBatch, r.room, "", ev.Batch)
		if err != nil {
			r.logger.Error("encode batch frame", "batch", ev.Batch.ID, "error", err)
		} else if err := r.tr.Send(ctx, f); err != nil {
			r.logger.Error("broadcast batch failed", "batch", ev.Batch.ID, "error", err)
		}
	}
	if r.log != nil {
		if _, err := r.log.WriteBatch(ctx, r.room, ev.Batch); err != nil {
			r.logger.Error("log batch failed", "batch", ev.Batch.ID, "error", err)
		}
	}
	r.scheduleSave()
}

func (r *Replica) broadcastPresence(s presence.Session) {
	f, err := transport.NewFrame(transport.FramePresence, r.room, "", s)
	if err != nil {
		r.logger.Error("encode presence frame", "session", s.ID, "error", err)
		return
	}
	if err := r.tr.Send(context.Background(), f); err != nil {
		r.logger.Warn("broadcast presence failed", "session", s.ID, "error", err)
	}
}
