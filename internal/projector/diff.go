package projector

import (
	"slices"

	"github.com/roach88/threadsync/internal/ir"
)

// Changes is the structural difference between two projections.
type Changes struct {
	Added   []ir.ID `json:"added"`
	Edited  []ir.ID `json:"edited"`
	Removed []ir.ID `json:"removed"`
}

// Empty reports whether nothing visible changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Edited) == 0 && len(c.Removed) == 0
}

// Diff compares two projections by comment ID. A comment is edited when its
// text, mentions or updated_at differ. Each list is in ID order.
func Diff(prev, next []ir.ProjectedComment) Changes {
	before := index(prev)
	after := index(next)

	var ch Changes
	for id, n := range after {
		p, ok := before[id]
		switch {
		case !ok:
			ch.Added = append(ch.Added, id)
		case edited(p, n):
			ch.Edited = append(ch.Edited, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			ch.Removed = append(ch.Removed, id)
		}
	}
	slices.SortFunc(ch.Added, ir.ID.Compare)
	slices.SortFunc(ch.Edited, ir.ID.Compare)
	slices.SortFunc(ch.Removed, ir.ID.Compare)
	return ch
}

func index(tree []ir.ProjectedComment) map[ir.ID]ir.ProjectedComment {
	m := make(map[ir.ID]ir.ProjectedComment)
	Walk(tree, func(c ir.ProjectedComment, _ int) bool {
		m[c.ID] = c
		return true
	})
	return m
}

func edited(a, b ir.ProjectedComment) bool {
	if a.Text != b.Text || !slices.Equal(a.Mentions, b.Mentions) {
		return true
	}
	switch {
	case a.UpdatedAt == nil && b.UpdatedAt == nil:
		return false
	case a.UpdatedAt == nil || b.UpdatedAt == nil:
		return true
	}
	return !a.UpdatedAt.Equal(*b.UpdatedAt)
}
