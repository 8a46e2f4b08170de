package crdt

import (
	"slices"
	"time"

	"github.com/roach88/threadsync/internal/ir"
)

// Store holds every node, notification and change-log entry of one
// document.
//
// Store is not safe for concurrent use. The document layer serializes
// access and works on clones while a transaction is open.
type Store struct {
	nodes         map[ir.ID]*nodeState
	notifications map[ir.ID]*notificationState
	changes       map[ir.ID]ir.ChangeLogEntry
	sequences     sequenceIndex
}

// nodeState is the joined state of one node. A nodeState may exist before
// the node's create op arrives; it is a shadow until then and is hidden from
// every read.
type nodeState struct {
	created   bool
	author    ir.Author
	createdAt time.Time
	// provisional is set while the only create seen came from a seed.
	provisional bool

	text    textRegister
	updated timeRegister
	deleted bool

	placed    bool
	placement placement
}

type textRegister struct {
	stamp    ir.ID
	text     string
	mentions []ir.Mention
}

type timeRegister struct {
	stamp ir.ID
	at    time.Time
}

// placement positions a node in its container's child sequence.
type placement struct {
	stamp       ir.ID
	container   ir.ID
	after       ir.ID
	provisional bool
}

// less orders placements for the join, which keeps the smallest. Placements
// from history sort before provisional ones.
func (p placement) less(o placement) bool {
	if p.provisional != o.provisional {
		return !p.provisional
	}
	if c := p.stamp.Compare(o.stamp); c != 0 {
		return c < 0
	}
	if c := p.container.Compare(o.container); c != 0 {
		return c < 0
	}
	return p.after.Less(o.after)
}

type notificationState struct {
	known bool
	value ir.Notification
	read  bool
}

// NodeView is a read-only copy of one created node.
type NodeView struct {
	ID        ir.ID
	Author    ir.Author
	Text      string
	Mentions  []ir.Mention
	CreatedAt time.Time
	UpdatedAt *time.Time
	Deleted   bool

	// Container is the parent node, or ir.RootID for top-level comments.
	// Meaningless when Placed is false.
	Container ir.ID
	Placed    bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		nodes:         make(map[ir.ID]*nodeState),
		notifications: make(map[ir.ID]*notificationState),
		changes:       make(map[ir.ID]ir.ChangeLogEntry),
		sequences:     make(sequenceIndex),
	}
}

// Apply joins one op into the store.
//
// Apply reports whether any state changed; re-applying an op already
// joined returns false. The only error is ErrCodeInvalidOp for an op that
// fails its schema. Ops may arrive before the create op of the node they
// touch.
func (s *Store) Apply(op ir.Op) (bool, error) {
	if err := op.Validate(); err != nil {
		return false, &StoreError{Code: ErrCodeInvalidOp, Message: err.Error(), NodeID: op.Target}
	}

	switch op.Kind {
	case ir.OpCreate:
		n := s.node(op.Target)
		if n.created && (!n.provisional || op.Create.Provisional) {
			return false, nil
		}
		n.created = true
		n.provisional = op.Create.Provisional
		n.author = op.Create.Author
		n.createdAt = op.Create.CreatedAt
		// Provisional text is joined at the zero stamp so every write
		// from history, the real create included, overrides it.
		stamp := op.Stamp
		if op.Create.Provisional {
			stamp = ir.ID{}
		}
		n.text.join(stamp, op.Create.Text, op.Create.Mentions)
		return true, nil

	case ir.OpInsert:
		n := s.node(op.Target)
		p := placement{
			stamp:       op.Stamp,
			container:   op.Insert.Container,
			after:       op.Insert.After,
			provisional: op.Insert.Provisional,
		}
		if n.placed {
			if !p.less(n.placement) {
				return false, nil
			}
			s.unindex(op.Target)
		}
		n.placed = true
		n.placement = p
		s.index(op.Target)
		return true, nil

	case ir.OpSetText:
		n := s.node(op.Target)
		textChanged := n.text.join(op.Stamp, op.SetText.Text, op.SetText.Mentions)
		timeChanged := n.updated.join(op.Stamp, op.SetText.UpdatedAt)
		return textChanged || timeChanged, nil

	case ir.OpTouch:
		return s.node(op.Target).updated.join(op.Stamp, op.Touch.At), nil

	case ir.OpTombstone:
		n := s.node(op.Target)
		if n.deleted {
			return false, nil
		}
		n.deleted = true
		return true, nil

	case ir.OpNotify:
		ns := s.notification(op.Target)
		if ns.known {
			return false, nil
		}
		ns.known = true
		ns.value = *op.Notify
		if op.Notify.Read {
			ns.read = true
		}
		return true, nil

	case ir.OpMarkRead:
		ns := s.notification(op.Target)
		if ns.read {
			return false, nil
		}
		ns.read = true
		return true, nil

	case ir.OpLogChange:
		if _, ok := s.changes[op.Target]; ok {
			return false, nil
		}
		s.changes[op.Target] = *op.Change
		return true, nil
	}
	return false, nil
}

// ApplyAll joins every op of a batch and reports whether any changed state.
// It stops at the first invalid op; ops before it stay joined.
func (s *Store) ApplyAll(ops []ir.Op) (bool, error) {
	changed := false
	for _, op := range ops {
		c, err := s.Apply(op)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}

func (s *Store) node(id ir.ID) *nodeState {
	n, ok := s.nodes[id]
	if !ok {
		n = &nodeState{}
		s.nodes[id] = n
	}
	return n
}

func (s *Store) notification(id ir.ID) *notificationState {
	ns, ok := s.notifications[id]
	if !ok {
		ns = &notificationState{}
		s.notifications[id] = ns
	}
	return ns
}

// join keeps the write with the larger stamp. Equal stamps only differ when
// a snapshot re-exports a create whose text was later overwritten; the
// larger text wins so the result does not depend on arrival order.
func (r *textRegister) join(stamp ir.ID, text string, mentions []ir.Mention) bool {
	switch c := stamp.Compare(r.stamp); {
	case c < 0:
		return false
	case c == 0 && text <= r.text:
		return false
	}
	r.stamp = stamp
	r.text = text
	r.mentions = nil
	if len(mentions) > 0 {
		r.mentions = slices.Clone(mentions)
	}
	return true
}

func (r *timeRegister) join(stamp ir.ID, at time.Time) bool {
	switch c := stamp.Compare(r.stamp); {
	case c < 0:
		return false
	case c == 0 && !at.After(r.at):
		return false
	}
	r.stamp = stamp
	r.at = at
	return true
}

// Node returns a copy of a created node. Shadow nodes are not found.
func (s *Store) Node(id ir.ID) (NodeView, bool) {
	n, ok := s.nodes[id]
	if !ok || !n.created {
		return NodeView{}, false
	}
	view := NodeView{
		ID:        id,
		Author:    n.author,
		Text:      n.text.text,
		Mentions:  slices.Clone(n.text.mentions),
		CreatedAt: n.createdAt,
		Deleted:   n.deleted,
		Container: n.placement.container,
		Placed:    n.placed,
	}
	if !n.updated.stamp.IsZero() {
		at := n.updated.at
		view.UpdatedAt = &at
	}
	return view, true
}

// Exists reports whether a node has been created, deleted or not.
func (s *Store) Exists(id ir.ID) bool {
	n, ok := s.nodes[id]
	return ok && n.created
}

// Notifications returns every known notification in ID order, with read
// flags applied.
func (s *Store) Notifications() []ir.Notification {
	out := make([]ir.Notification, 0, len(s.notifications))
	for _, id := range sortedIDs(s.notifications) {
		ns := s.notifications[id]
		if !ns.known {
			continue
		}
		n := ns.value
		n.Read = ns.read
		out = append(out, n)
	}
	return out
}

// Notification returns one notification.
func (s *Store) Notification(id ir.ID) (ir.Notification, bool) {
	ns, ok := s.notifications[id]
	if !ok || !ns.known {
		return ir.Notification{}, false
	}
	n := ns.value
	n.Read = ns.read
	return n, true
}

// ChangeLog returns every change-log entry in ID order.
func (s *Store) ChangeLog() []ir.ChangeLogEntry {
	out := make([]ir.ChangeLogEntry, 0, len(s.changes))
	for _, id := range sortedIDs(s.changes) {
		out = append(out, s.changes[id])
	}
	return out
}

func sortedIDs[V any](m map[ir.ID]V) []ir.ID {
	ids := make([]ir.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ir.ID.Compare)
	return ids
}
