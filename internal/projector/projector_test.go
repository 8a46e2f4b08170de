package projector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadsync/internal/crdt"
	"github.com/roach88/threadsync/internal/ir"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// fixture builds:
//
//	c1 (ann)
//	  r1 (bob)
//	    r2 (ann)
//	c2 (bob)
func fixture(t *testing.T) (*crdt.Store, map[string]ir.ID) {
	t.Helper()
	s := crdt.NewStore()
	ids := map[string]ir.ID{
		"c1": {Seq: 1, Replica: "a"},
		"r1": {Seq: 2, Replica: "b"},
		"r2": {Seq: 3, Replica: "a"},
		"c2": {Seq: 4, Replica: "b"},
	}
	add := func(name, author string, container ir.ID) {
		node := ids[name]
		_, err := s.ApplyAll([]ir.Op{
			{Kind: ir.OpCreate, Stamp: node, Target: node, Create: &ir.CreatePayload{
				Author: ir.Author{ID: author, Name: author}, Text: name, CreatedAt: t0,
			}},
			{Kind: ir.OpInsert, Stamp: node, Target: node, Insert: &ir.InsertPayload{
				Container: container, After: s.Tail(container),
			}},
		})
		require.NoError(t, err)
	}
	add("c1", "ann", ir.RootID)
	add("r1", "bob", ids["c1"])
	add("r2", "ann", ids["r1"])
	add("c2", "bob", ir.RootID)
	return s, ids
}

func apply(t *testing.T, s *crdt.Store, ops ...ir.Op) {
	t.Helper()
	_, err := s.ApplyAll(ops)
	require.NoError(t, err)
}

func TestProject_NestedOrder(t *testing.T) {
	s, ids := fixture(t)
	tree := Project(s)

	require.Len(t, tree, 2)
	assert.Equal(t, ids["c1"], tree[0].ID)
	assert.Equal(t, ids["c2"], tree[1].ID)
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, ids["r1"], tree[0].Replies[0].ID)
	require.Len(t, tree[0].Replies[0].Replies, 1)
	assert.Equal(t, ids["r2"], tree[0].Replies[0].Replies[0].ID)
	assert.NotNil(t, tree[1].Replies, "leaf replies are empty, not nil")
	assert.NotNil(t, tree[1].Mentions)
}

func TestProject_EmptyStore(t *testing.T) {
	tree := Project(crdt.NewStore())
	assert.NotNil(t, tree)
	assert.Empty(t, tree)
}

func TestProject_DeletedHidesWholeSubtree(t *testing.T) {
	s, ids := fixture(t)
	apply(t, s, ir.Op{Kind: ir.OpTombstone, Stamp: ir.ID{Seq: 9, Replica: "b"}, Target: ids["r1"]})

	tree := Project(s)
	require.Len(t, tree, 2)
	assert.Empty(t, tree[0].Replies, "r2 is not promoted")
	_, _, ok := Find(tree, ids["r2"])
	assert.False(t, ok)
}

func TestProject_IsDeterministic(t *testing.T) {
	s, _ := fixture(t)
	assert.Equal(t, Project(s), Project(s))
}

func TestProject_OutputDoesNotAliasStore(t *testing.T) {
	s, ids := fixture(t)
	mention := ir.Mention{UserID: "bob", UserName: "bob", Offset: 0, Length: 4}
	apply(t, s, ir.Op{Kind: ir.OpSetText, Stamp: ir.ID{Seq: 10, Replica: "a"}, Target: ids["c1"],
		SetText: &ir.SetTextPayload{Text: "@bob", Mentions: []ir.Mention{mention}, UpdatedAt: t0}})

	tree := Project(s)
	tree[0].Mentions[0].UserID = "mallory"
	tree[0].Text = "changed"

	again := Project(s)
	assert.Equal(t, "bob", again[0].Mentions[0].UserID)
	assert.Equal(t, "@bob", again[0].Text)
}

func TestMemo_ReprojectsOnlyOnNewVersion(t *testing.T) {
	s, ids := fixture(t)
	var m Memo

	first := m.Get(1, s)
	apply(t, s, ir.Op{Kind: ir.OpTombstone, Stamp: ir.ID{Seq: 11, Replica: "a"}, Target: ids["c2"]})

	stale := m.Get(1, s)
	assert.Equal(t, first, stale, "same version serves the cached tree")

	fresh := m.Get(2, s)
	assert.Len(t, fresh, 1)

	m.Invalidate()
	assert.Len(t, m.Get(2, s), 1)
}

func TestDiff(t *testing.T) {
	s, ids := fixture(t)
	before := Project(s)

	apply(t, s,
		ir.Op{Kind: ir.OpSetText, Stamp: ir.ID{Seq: 20, Replica: "a"}, Target: ids["c1"],
			SetText: &ir.SetTextPayload{Text: "edited", UpdatedAt: t0}},
		ir.Op{Kind: ir.OpTombstone, Stamp: ir.ID{Seq: 21, Replica: "a"}, Target: ids["c2"]},
	)
	c3 := ir.ID{Seq: 22, Replica: "a"}
	apply(t, s,
		ir.Op{Kind: ir.OpCreate, Stamp: c3, Target: c3, Create: &ir.CreatePayload{Text: "new", CreatedAt: t0}},
		ir.Op{Kind: ir.OpInsert, Stamp: c3, Target: c3, Insert: &ir.InsertPayload{After: s.Tail(ir.RootID)}},
	)

	ch := Diff(before, Project(s))
	assert.Equal(t, []ir.ID{c3}, ch.Added)
	assert.Equal(t, []ir.ID{ids["c1"]}, ch.Edited)
	assert.Equal(t, []ir.ID{ids["c2"]}, ch.Removed)
	assert.False(t, ch.Empty())
	assert.True(t, Diff(before, before).Empty())
}

func TestTreeHelpers(t *testing.T) {
	s, ids := fixture(t)
	tree := Project(s)

	found, parent, ok := Find(tree, ids["r2"])
	require.True(t, ok)
	assert.Equal(t, "r2", found.Text)
	assert.Equal(t, ids["r1"], parent)

	_, parent, ok = Find(tree, ids["c2"])
	require.True(t, ok)
	assert.True(t, parent.IsZero())

	assert.Equal(t, 4, Count(tree))

	var order []string
	for _, c := range Flatten(tree) {
		order = append(order, c.Text)
	}
	assert.Equal(t, []string{"c1", "r1", "r2", "c2"}, order)

	assert.Len(t, ByAuthor(tree, "ann"), 2)
	assert.Equal(t, []ir.ID{ids["c1"], ids["r1"], ids["r2"]}, Path(tree, ids["r2"]))
	assert.Nil(t, Path(tree, ir.ID{Seq: 99, Replica: "z"}))
}

func TestOutline(t *testing.T) {
	s, ids := fixture(t)
	apply(t, s, ir.Op{Kind: ir.OpSetText, Stamp: ir.ID{Seq: 30, Replica: "b"}, Target: ids["r1"],
		SetText: &ir.SetTextPayload{Text: "r1 \"quoted\"", UpdatedAt: t0}})

	want := "- 1@a ann: \"c1\"\n" +
		"  - 2@b bob: \"r1 \\\"quoted\\\"\" (edited)\n" +
		"    - 3@a ann: \"r2\"\n" +
		"- 4@b bob: \"c2\"\n"
	assert.Equal(t, want, Outline(Project(s)))
	assert.Equal(t, "(empty)\n", Outline(nil))
}
