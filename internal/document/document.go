package document

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/threadsync/internal/crdt"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/projector"
)

// Document is one replicated comment thread.
type Document struct {
	mu      sync.RWMutex
	replica string
	clock   *crdt.Clock
	now     func() time.Time
	logger  *slog.Logger

	store   *crdt.Store
	version uint64
	seen    map[string]struct{}
	tree    []ir.ProjectedComment
	memo    projector.Memo

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	queue   *eventQueue
}

// Option configures a Document.
type Option func(*Document)

// WithReplicaID fixes the replica identifier. Defaults to a fresh ULID.
func WithReplicaID(replica string) Option {
	return func(d *Document) {
		d.replica = replica
	}
}

// WithClock supplies the Lamport clock, e.g. one resumed from a log.
// The clock's replica becomes the document's replica.
func WithClock(c *crdt.Clock) Option {
	return func(d *Document) {
		d.clock = c
		d.replica = c.Replica()
	}
}

// WithNow replaces the wall-clock source used for created/updated
// timestamps. Timestamps are informational; ordering uses stamps.
func WithNow(now func() time.Time) Option {
	return func(d *Document) {
		d.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Document) {
		d.logger = logger
	}
}

// New creates an empty document.
func New(opts ...Option) *Document {
	d := &Document{
		now:   time.Now,
		store: crdt.NewStore(),
		seen:  make(map[string]struct{}),
		tree:  []ir.ProjectedComment{},
		subs:  make(map[int]func(Event)),
		queue: newEventQueue(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.replica == "" {
		d.replica = crdt.NewReplicaID()
	}
	if d.clock == nil {
		d.clock = crdt.NewClock(d.replica)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("replica", d.replica)
	return d
}

// ReplicaID returns the identifier stamped on every local op.
func (d *Document) ReplicaID() string {
	return d.replica
}

// Clock returns the document's Lamport clock.
func (d *Document) Clock() *crdt.Clock {
	return d.clock
}

// Version returns the number of commits that changed state.
func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Project returns the committed tree. The result is a private copy.
func (d *Document) Project() []ir.ProjectedComment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.memo.Get(d.version, d.store)
}

// Node returns one committed node, deleted or not.
func (d *Document) Node(id ir.ID) (crdt.NodeView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.Node(id)
}

// Notifications returns every committed notification in ID order.
func (d *Document) Notifications() []ir.Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.Notifications()
}

// ChangeLog returns every committed change-log entry in ID order.
func (d *Document) ChangeLog() []ir.ChangeLogEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.ChangeLog()
}

// Digest returns the canonical hash of the committed state.
func (d *Document) Digest() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.Digest()
}

// Snapshot exports the committed state as one batch. Applying it to an
// empty document reproduces this one; applying it anywhere is a full
// state merge.
func (d *Document) Snapshot() (ir.Batch, error) {
	d.mu.RLock()
	ops := d.store.Ops()
	d.mu.RUnlock()

	b, err := ir.NewBatch(d.replica, ops)
	if err != nil {
		return ir.Batch{}, fmt.Errorf("snapshot: %w", err)
	}
	return b, nil
}

// Apply merges a remote batch as one unit.
//
// A batch already applied (by ID) is ignored. A batch that changes state
// produces exactly one event; one that changes nothing produces none. The
// clock observes the batch's stamps so later local writes order after it.
func (d *Document) Apply(batch ir.Batch) (bool, error) {
	want, err := ir.ComputeBatchID(batch)
	if err != nil {
		return false, fmt.Errorf("apply batch: %w", err)
	}
	if batch.ID != want {
		return false, fmt.Errorf("apply batch %s: %w", batch.ID, ErrBatchID)
	}
	if err := batch.Validate(); err != nil {
		return false, fmt.Errorf("apply batch: %w", err)
	}
	return d.merge(batch, OriginRemote)
}

// Seed loads a projected tree saved by a snapshot store. It is a cold-start
// shortcut: the nodes keep their original IDs and are marked provisional,
// so every create and placement from the real history overrides them once
// it arrives.
func (d *Document) Seed(tree []ir.ProjectedComment) error {
	ops := seedOps(tree, ir.RootID)
	if len(ops) == 0 {
		return nil
	}
	batch, err := ir.NewBatch(d.replica, ops)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	_, err = d.merge(batch, OriginRemote)
	return err
}

func seedOps(tree []ir.ProjectedComment, container ir.ID) []ir.Op {
	var ops []ir.Op
	var after ir.ID
	for _, c := range tree {
		ops = append(ops,
			ir.Op{Kind: ir.OpCreate, Stamp: c.ID, Target: c.ID, Create: &ir.CreatePayload{
				Author: c.Author, Text: c.Text, Mentions: c.Mentions, CreatedAt: c.CreatedAt,
				Provisional: true,
			}},
			ir.Op{Kind: ir.OpInsert, Stamp: c.ID, Target: c.ID, Insert: &ir.InsertPayload{
				Container: container, After: after, Provisional: true,
			}},
		)
		if c.UpdatedAt != nil {
			ops = append(ops, ir.Op{Kind: ir.OpTouch, Stamp: c.ID, Target: c.ID, Touch: &ir.TouchPayload{At: *c.UpdatedAt}})
		}
		ops = append(ops, seedOps(c.Replies, c.ID)...)
		after = c.ID
	}
	return ops
}

func (d *Document) merge(batch ir.Batch, origin Origin) (bool, error) {
	d.mu.Lock()
	if _, dup := d.seen[batch.ID]; dup {
		d.mu.Unlock()
		d.logger.Debug("duplicate batch ignored", "batch", batch.ID, "origin", batch.Origin)
		return false, nil
	}

	// Ops were validated up front, so ApplyAll cannot stop half way.
	changed, err := d.store.ApplyAll(batch.Ops)
	if err != nil {
		d.mu.Unlock()
		return false, fmt.Errorf("apply batch %s: %w", batch.ID, err)
	}
	d.seen[batch.ID] = struct{}{}
	d.clock.Observe(batch.MaxStamp().Seq)
	if changed {
		d.commitLocked(batch, origin)
	}
	d.mu.Unlock()

	d.logger.Debug("merged batch",
		"batch", batch.ID,
		"origin", batch.Origin,
		"ops", len(batch.Ops),
		"changed", changed,
	)
	if changed {
		d.dispatch()
	}
	return changed, nil
}

// commitLocked bumps the version, re-projects and queues the event.
// Caller holds d.mu.
func (d *Document) commitLocked(batch ir.Batch, origin Origin) {
	d.version++
	next := d.memo.Get(d.version, d.store)
	changes := projector.Diff(d.tree, next)
	d.tree = next
	d.queue.Enqueue(Event{
		Version: d.version,
		Origin:  origin,
		Batch:   batch,
		Tree:    next,
		Changes: changes,
	})
}

// timestamp returns the wall-clock time in UTC so that encoded times do not
// depend on the replica's zone.
func (d *Document) timestamp() time.Time {
	return d.now().UTC()
}
