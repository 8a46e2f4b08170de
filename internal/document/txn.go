package document

import (
	"fmt"

	"github.com/roach88/threadsync/internal/crdt"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/projector"
)

// Txn stages mutations for one RunTransaction call.
//
// Every mutation is applied to a private copy of the store, so reads inside
// the transaction see its own writes while the committed state stays
// untouched until the transaction function returns nil.
type Txn struct {
	doc    *Document
	staged *crdt.Store
	ops    []ir.Op
	closed bool
}

// RunTransaction runs fn against a staged copy of the store and commits
// everything fn recorded as one batch.
//
// If fn returns an error or panics, nothing is committed and the error is
// returned wrapped in a TxnError. A transaction that records no ops commits
// nothing, fires no event and returns a nil batch.
//
// Transactions are serialized with each other and with remote merges. fn
// must work through the Txn only: calling back into the same Document from
// fn deadlocks. Subscribers may start transactions freely.
func (d *Document) RunTransaction(fn func(*Txn) error) (*ir.Batch, error) {
	d.mu.Lock()
	txn := &Txn{doc: d, staged: d.store.Clone()}
	err := runGuarded(fn, txn)
	txn.closed = true

	if err != nil {
		d.mu.Unlock()
		d.logger.Debug("transaction aborted", "staged_ops", len(txn.ops), "error", err)
		return nil, &TxnError{Cause: err}
	}
	if len(txn.ops) == 0 {
		d.mu.Unlock()
		return nil, nil
	}

	batch, err := ir.NewBatch(d.replica, txn.ops)
	if err != nil {
		d.mu.Unlock()
		return nil, &TxnError{Cause: fmt.Errorf("seal batch: %w", err)}
	}
	d.store = txn.staged
	d.seen[batch.ID] = struct{}{}
	d.commitLocked(batch, OriginLocal)
	d.mu.Unlock()

	d.logger.Debug("transaction committed", "batch", batch.ID, "ops", len(batch.Ops))
	d.dispatch()
	return &batch, nil
}

func runGuarded(fn func(*Txn) error, txn *Txn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction panicked: %v", r)
		}
	}()
	return fn(txn)
}

// record applies op to the staged store and buffers it for the batch.
func (t *Txn) record(op ir.Op) (bool, error) {
	changed, err := t.staged.Apply(op)
	if err != nil {
		return false, err
	}
	t.ops = append(t.ops, op)
	return changed, nil
}

func (t *Txn) check() error {
	if t.closed {
		return ErrTxnClosed
	}
	return nil
}

func (t *Txn) notFound(action string, id ir.ID) error {
	t.doc.logger.Warn("mutation on unknown node ignored", "action", action, "node", id.String())
	return crdt.NotFound(id)
}

// NewNode creates a node without placing it anywhere. It stays invisible
// until AppendChild attaches it.
func (t *Txn) NewNode(text string, author ir.Author, mentions []ir.Mention) (ir.ID, error) {
	if err := t.check(); err != nil {
		return ir.ID{}, err
	}
	id := t.doc.clock.Next()
	_, err := t.record(ir.Op{
		Kind:   ir.OpCreate,
		Stamp:  id,
		Target: id,
		Create: &ir.CreatePayload{
			Author:    author,
			Text:      text,
			Mentions:  mentions,
			CreatedAt: t.doc.timestamp(),
		},
	})
	if err != nil {
		return ir.ID{}, err
	}
	return id, nil
}

// CreateNode creates a node and appends it to parent's replies, or to the
// top level when parent is ir.RootID. The parent may be deleted.
func (t *Txn) CreateNode(parent ir.ID, text string, author ir.Author, mentions []ir.Mention) (ir.ID, error) {
	if err := t.check(); err != nil {
		return ir.ID{}, err
	}
	if !parent.IsZero() && !t.staged.Exists(parent) {
		return ir.ID{}, t.notFound("create", parent)
	}
	id, err := t.NewNode(text, author, mentions)
	if err != nil {
		return ir.ID{}, err
	}
	// The placement shares the node's stamp: one tick per created node.
	_, err = t.record(ir.Op{
		Kind:   ir.OpInsert,
		Stamp:  id,
		Target: id,
		Insert: &ir.InsertPayload{Container: parent, After: t.staged.Tail(parent)},
	})
	if err != nil {
		return ir.ID{}, err
	}
	return id, nil
}

// AppendChild places child at the end of parent's replies as observed here.
// Concurrent appends from other replicas all survive; their relative order
// is decided by stamp.
func (t *Txn) AppendChild(parent, child ir.ID) error {
	if err := t.check(); err != nil {
		return err
	}
	if !parent.IsZero() && !t.staged.Exists(parent) {
		return t.notFound("append_child", parent)
	}
	view, ok := t.staged.Node(child)
	if !ok {
		return t.notFound("append_child", child)
	}
	if view.Placed {
		return &crdt.StoreError{Code: crdt.ErrCodeAlreadyAttached, Message: "node already has a parent", NodeID: child}
	}
	_, err := t.record(ir.Op{
		Kind:   ir.OpInsert,
		Stamp:  t.doc.clock.Next(),
		Target: child,
		Insert: &ir.InsertPayload{Container: parent, After: t.staged.Tail(parent)},
	})
	return err
}

// SetText replaces a node's text and mentions and stamps updated_at.
// An unknown id records nothing and returns a NOT_FOUND error.
func (t *Txn) SetText(id ir.ID, text string, mentions []ir.Mention) error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.staged.Exists(id) {
		return t.notFound("set_text", id)
	}
	_, err := t.record(ir.Op{
		Kind:    ir.OpSetText,
		Stamp:   t.doc.clock.Next(),
		Target:  id,
		SetText: &ir.SetTextPayload{Text: text, Mentions: mentions, UpdatedAt: t.doc.timestamp()},
	})
	return err
}

// Touch stamps a node's updated_at without changing its text.
func (t *Txn) Touch(id ir.ID) error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.staged.Exists(id) {
		return t.notFound("touch", id)
	}
	_, err := t.record(ir.Op{
		Kind:   ir.OpTouch,
		Stamp:  t.doc.clock.Next(),
		Target: id,
		Touch:  &ir.TouchPayload{At: t.doc.timestamp()},
	})
	return err
}

// SetTombstone marks a node deleted. Deleting a deleted node records
// nothing.
func (t *Txn) SetTombstone(id ir.ID) error {
	if err := t.check(); err != nil {
		return err
	}
	view, ok := t.staged.Node(id)
	if !ok {
		return t.notFound("tombstone", id)
	}
	if view.Deleted {
		return nil
	}
	_, err := t.record(ir.Op{Kind: ir.OpTombstone, Stamp: t.doc.clock.Next(), Target: id})
	return err
}

// AddNotification appends a notification and returns its ID. ID is
// assigned here; a zero Timestamp is filled with the current time.
func (t *Txn) AddNotification(n ir.Notification) (ir.ID, error) {
	if err := t.check(); err != nil {
		return ir.ID{}, err
	}
	n.ID = t.doc.clock.Next()
	n.Read = false
	if n.Timestamp.IsZero() {
		n.Timestamp = t.doc.timestamp()
	}
	if _, err := t.record(ir.Op{Kind: ir.OpNotify, Stamp: n.ID, Target: n.ID, Notify: &n}); err != nil {
		return ir.ID{}, err
	}
	return n.ID, nil
}

// MarkRead flips a notification's read flag. Marking a read notification
// records nothing.
func (t *Txn) MarkRead(id ir.ID) error {
	if err := t.check(); err != nil {
		return err
	}
	n, ok := t.staged.Notification(id)
	if !ok {
		t.doc.logger.Warn("mark_read on unknown notification ignored", "notification", id.String())
		return &crdt.StoreError{Code: crdt.ErrCodeNotFound, Message: "notification does not exist", NodeID: id}
	}
	if n.Read {
		return nil
	}
	_, err := t.record(ir.Op{Kind: ir.OpMarkRead, Stamp: t.doc.clock.Next(), Target: id})
	return err
}

// LogChange appends a change-log entry and returns its ID.
func (t *Txn) LogChange(entry ir.ChangeLogEntry) (ir.ID, error) {
	if err := t.check(); err != nil {
		return ir.ID{}, err
	}
	entry.ID = t.doc.clock.Next()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.doc.timestamp()
	}
	if _, err := t.record(ir.Op{Kind: ir.OpLogChange, Stamp: entry.ID, Target: entry.ID, Change: &entry}); err != nil {
		return ir.ID{}, err
	}
	return entry.ID, nil
}

// Node reads a node, including writes staged by this transaction.
func (t *Txn) Node(id ir.ID) (crdt.NodeView, bool) {
	return t.staged.Node(id)
}

// Children reads a container's children, including staged writes.
func (t *Txn) Children(container ir.ID) []ir.ID {
	return t.staged.Children(container)
}

// Notifications reads notifications, including staged writes.
func (t *Txn) Notifications() []ir.Notification {
	return t.staged.Notifications()
}

// Project projects the staged state.
func (t *Txn) Project() []ir.ProjectedComment {
	return projector.Project(t.staged)
}

// Len returns the number of ops staged so far.
func (t *Txn) Len() int {
	return len(t.ops)
}
