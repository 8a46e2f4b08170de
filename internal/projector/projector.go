// Package projector derives the nested comment tree from the flat
// replicated store.
//
// Projection is a pure re-derivation: nothing is cached in the store, and
// the output holds plain values only. A deleted node hides its whole
// subtree; surviving replies are not promoted.
package projector

import (
	"slices"

	"github.com/roach88/threadsync/internal/crdt"
	"github.com/roach88/threadsync/internal/ir"
)

// Reader is the read side of a node store.
type Reader interface {
	Roots() []ir.ID
	Children(container ir.ID) []ir.ID
	Node(id ir.ID) (crdt.NodeView, bool)
}

// Project walks the root sequence in merge order and resolves replies
// recursively. It never returns nil.
func Project(r Reader) []ir.ProjectedComment {
	visiting := make(map[ir.ID]bool)
	return projectLevel(r, r.Roots(), visiting)
}

func projectLevel(r Reader, ids []ir.ID, visiting map[ir.ID]bool) []ir.ProjectedComment {
	out := make([]ir.ProjectedComment, 0, len(ids))
	for _, id := range ids {
		// Containment cycles cannot be produced locally; a crafted remote
		// batch could still create one.
		if visiting[id] {
			continue
		}
		node, ok := r.Node(id)
		if !ok || node.Deleted {
			continue
		}
		visiting[id] = true
		out = append(out, toComment(node, projectLevel(r, r.Children(id), visiting)))
		delete(visiting, id)
	}
	return out
}

func toComment(node crdt.NodeView, replies []ir.ProjectedComment) ir.ProjectedComment {
	c := ir.ProjectedComment{
		ID:        node.ID,
		Text:      node.Text,
		Author:    node.Author,
		CreatedAt: node.CreatedAt,
		Mentions:  slices.Clone(node.Mentions),
		Replies:   replies,
	}
	if c.Mentions == nil {
		c.Mentions = []ir.Mention{}
	}
	if node.UpdatedAt != nil {
		at := *node.UpdatedAt
		c.UpdatedAt = &at
	}
	return c
}

// Clone deep-copies a projected tree.
func Clone(tree []ir.ProjectedComment) []ir.ProjectedComment {
	if tree == nil {
		return nil
	}
	out := make([]ir.ProjectedComment, len(tree))
	for i, c := range tree {
		cp := c
		cp.Mentions = slices.Clone(c.Mentions)
		if c.UpdatedAt != nil {
			at := *c.UpdatedAt
			cp.UpdatedAt = &at
		}
		cp.Replies = Clone(c.Replies)
		out[i] = cp
	}
	return out
}
