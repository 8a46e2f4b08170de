package projector

import "github.com/roach88/threadsync/internal/ir"

// Walk visits every comment depth-first in display order. depth is 0 for
// top-level comments. Returning false from fn stops the walk.
func Walk(tree []ir.ProjectedComment, fn func(c ir.ProjectedComment, depth int) bool) {
	walk(tree, 0, fn)
}

func walk(tree []ir.ProjectedComment, depth int, fn func(ir.ProjectedComment, int) bool) bool {
	for _, c := range tree {
		if !fn(c, depth) {
			return false
		}
		if !walk(c.Replies, depth+1, fn) {
			return false
		}
	}
	return true
}

// Find returns the comment with id and its parent's ID (ir.RootID for a
// top-level comment).
func Find(tree []ir.ProjectedComment, id ir.ID) (ir.ProjectedComment, ir.ID, bool) {
	for _, c := range tree {
		if c.ID == id {
			return c, ir.RootID, true
		}
	}
	for _, c := range tree {
		if found, parent, ok := Find(c.Replies, id); ok {
			if parent.IsZero() {
				parent = c.ID
			}
			return found, parent, true
		}
	}
	return ir.ProjectedComment{}, ir.ID{}, false
}

// Count returns the number of visible comments, replies included.
func Count(tree []ir.ProjectedComment) int {
	n := 0
	Walk(tree, func(ir.ProjectedComment, int) bool {
		n++
		return true
	})
	return n
}

// Flatten lists every visible comment depth-first. Replies stay attached
// to their entries.
func Flatten(tree []ir.ProjectedComment) []ir.ProjectedComment {
	var out []ir.ProjectedComment
	Walk(tree, func(c ir.ProjectedComment, _ int) bool {
		out = append(out, c)
		return true
	})
	return out
}

// ByAuthor lists the visible comments written by authorID.
func ByAuthor(tree []ir.ProjectedComment, authorID string) []ir.ProjectedComment {
	var out []ir.ProjectedComment
	Walk(tree, func(c ir.ProjectedComment, _ int) bool {
		if c.Author.ID == authorID {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Path returns the IDs from the top-level comment down to id, inclusive,
// or nil if id is not visible.
func Path(tree []ir.ProjectedComment, id ir.ID) []ir.ID {
	for _, c := range tree {
		if c.ID == id {
			return []ir.ID{id}
		}
		if sub := Path(c.Replies, id); sub != nil {
			return append([]ir.ID{c.ID}, sub...)
		}
	}
	return nil
}
