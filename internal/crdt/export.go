package crdt

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/threadsync/internal/ir"
)

const stateDomain = "threadsync/state/v1"

// Ops exports the whole state as a minimal op list.
//
// Applying the result to an empty store reproduces this store exactly, and
// joining it into any other store is the same as a full state Merge. This is
// the snapshot shipped to new joiners. The order is deterministic: nodes,
// then notifications, then change-log entries, each in ID order.
func (s *Store) Ops() []ir.Op {
	var ops []ir.Op

	for _, id := range sortedIDs(s.nodes) {
		n := s.nodes[id]
		textInCreate := n.text.stamp == id || (n.provisional && n.text.stamp.IsZero())
		if n.created {
			create := &ir.CreatePayload{Author: n.author, CreatedAt: n.createdAt, Provisional: n.provisional}
			if textInCreate {
				create.Text = n.text.text
				create.Mentions = slices.Clone(n.text.mentions)
			}
			ops = append(ops, ir.Op{Kind: ir.OpCreate, Stamp: id, Target: id, Create: create})
		}
		if n.placed {
			ops = append(ops, ir.Op{
				Kind:   ir.OpInsert,
				Stamp:  n.placement.stamp,
				Target: id,
				Insert: &ir.InsertPayload{
					Container:   n.placement.container,
					After:       n.placement.after,
					Provisional: n.placement.provisional,
				},
			})
		}
		if !n.text.stamp.IsZero() && !(textInCreate && n.created) {
			ops = append(ops, ir.Op{
				Kind:   ir.OpSetText,
				Stamp:  n.text.stamp,
				Target: id,
				SetText: &ir.SetTextPayload{
					Text:      n.text.text,
					Mentions:  slices.Clone(n.text.mentions),
					UpdatedAt: n.updated.at,
				},
			})
		}
		if !n.updated.stamp.IsZero() && n.updated.stamp != n.text.stamp {
			ops = append(ops, ir.Op{
				Kind:   ir.OpTouch,
				Stamp:  n.updated.stamp,
				Target: id,
				Touch:  &ir.TouchPayload{At: n.updated.at},
			})
		}
		if n.deleted {
			ops = append(ops, ir.Op{Kind: ir.OpTombstone, Stamp: id, Target: id})
		}
	}

	for _, id := range sortedIDs(s.notifications) {
		ns := s.notifications[id]
		if ns.known {
			n := ns.value
			n.Read = false
			ops = append(ops, ir.Op{Kind: ir.OpNotify, Stamp: id, Target: id, Notify: &n})
		}
		if ns.read {
			ops = append(ops, ir.Op{Kind: ir.OpMarkRead, Stamp: id, Target: id})
		}
	}

	for _, id := range sortedIDs(s.changes) {
		entry := s.changes[id]
		ops = append(ops, ir.Op{Kind: ir.OpLogChange, Stamp: id, Target: id, Change: &entry})
	}
	return ops
}

// Merge joins the full state of other into s.
func (s *Store) Merge(other *Store) (bool, error) {
	return s.ApplyAll(other.Ops())
}

// Clone returns a deep copy. Mutating the copy never affects s.
func (s *Store) Clone() *Store {
	c := &Store{
		nodes:         make(map[ir.ID]*nodeState, len(s.nodes)),
		notifications: make(map[ir.ID]*notificationState, len(s.notifications)),
		changes:       maps.Clone(s.changes),
		sequences:     s.sequences.clone(),
	}
	for id, n := range s.nodes {
		cp := *n
		cp.text.mentions = slices.Clone(n.text.mentions)
		c.nodes[id] = &cp
	}
	for id, ns := range s.notifications {
		cp := *ns
		c.notifications[id] = &cp
	}
	return c
}

// Digest returns a canonical hash of the state. Two stores with the same
// digest hold the same state.
func (s *Store) Digest() (string, error) {
	d, err := ir.Digest(stateDomain, s.Ops())
	if err != nil {
		return "", fmt.Errorf("digest state: %w", err)
	}
	return d, nil
}

// Len returns the number of created nodes, deleted ones included.
func (s *Store) Len() int {
	count := 0
	for _, n := range s.nodes {
		if n.created {
			count++
		}
	}
	return count
}
