package crdt

import (
	"slices"

	"github.com/roach88/threadsync/internal/ir"
)

// sequenceIndex maps container to predecessor to the elements inserted
// after it. Each list is kept in ascending (placement stamp, ID) order. The
// store updates it on every placement change, so reads never rescan nodes.
type sequenceIndex map[ir.ID]map[ir.ID][]ir.ID

func (x sequenceIndex) clone() sequenceIndex {
	out := make(sequenceIndex, len(x))
	for container, succ := range x {
		cp := make(map[ir.ID][]ir.ID, len(succ))
		for after, ids := range succ {
			cp[after] = slices.Clone(ids)
		}
		out[container] = cp
	}
	return out
}

// compareSiblings orders two elements sharing a predecessor by the stamp of
// the insert that placed them, then by ID.
func (s *Store) compareSiblings(a, b ir.ID) int {
	if c := s.nodes[a].placement.stamp.Compare(s.nodes[b].placement.stamp); c != 0 {
		return c
	}
	return a.Compare(b)
}

// index records id under its current placement.
func (s *Store) index(id ir.ID) {
	p := s.nodes[id].placement
	succ := s.sequences[p.container]
	if succ == nil {
		succ = make(map[ir.ID][]ir.ID)
		s.sequences[p.container] = succ
	}
	list := succ[p.after]
	i, _ := slices.BinarySearchFunc(list, id, s.compareSiblings)
	succ[p.after] = slices.Insert(list, i, id)
}

// unindex removes id from under its current placement.
func (s *Store) unindex(id ir.ID) {
	p := s.nodes[id].placement
	succ := s.sequences[p.container]
	list := succ[p.after]
	i := slices.Index(list, id)
	if i < 0 {
		return
	}
	list = slices.Delete(list, i, i+1)
	if len(list) > 0 {
		succ[p.after] = list
		return
	}
	delete(succ, p.after)
	if len(succ) == 0 {
		delete(s.sequences, p.container)
	}
}

// linearize returns every element placed in container, in sequence order.
//
// The sequence is an RGA: each element names the predecessor it was
// inserted after. Elements sharing a predecessor are ordered by the stamp
// of their insert, newest first, and the order is the depth-first walk
// from the head (the zero ID). An element whose predecessor is not (yet) in
// the container is pending and left out until the predecessor arrives.
//
// Shadow elements (placed but not created) take part in the walk so their
// successors stay reachable; callers filter them.
func (s *Store) linearize(container ir.ID) []ir.ID {
	successors := s.sequences[container]
	if len(successors) == 0 {
		return nil
	}

	var order []ir.ID
	// Lists are ascending, so the stack pops the newest first.
	stack := slices.Clone(successors[ir.ID{}])
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, id)
		stack = append(stack, successors[id]...)
	}
	return order
}

// Children returns the created children of container in merge order,
// deleted ones included. Use ir.RootID for top-level comments.
func (s *Store) Children(container ir.ID) []ir.ID {
	all := s.linearize(container)
	out := make([]ir.ID, 0, len(all))
	for _, id := range all {
		if s.nodes[id].created {
			out = append(out, id)
		}
	}
	return out
}

// Roots returns the top-level comments in merge order, deleted ones
// included.
func (s *Store) Roots() []ir.ID {
	return s.Children(ir.RootID)
}

// Tail returns the last element of container's sequence as observed here,
// or the zero ID when it is empty. New children are inserted after it.
func (s *Store) Tail(container ir.ID) ir.ID {
	all := s.linearize(container)
	if len(all) == 0 {
		return ir.ID{}
	}
	return all[len(all)-1]
}

// Pending returns elements placed in container whose predecessor has not
// arrived. They become visible once it does.
func (s *Store) Pending(container ir.ID) []ir.ID {
	reached := make(map[ir.ID]bool)
	for _, id := range s.linearize(container) {
		reached[id] = true
	}
	var pending []ir.ID
	for _, ids := range s.sequences[container] {
		for _, id := range ids {
			if !reached[id] {
				pending = append(pending, id)
			}
		}
	}
	slices.SortFunc(pending, ir.ID.Compare)
	return pending
}
