package document

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadsync/internal/crdt"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/testutil"
)

var (
	ann = ir.Author{ID: "u-ann", Name: "Ann"}
	bob = ir.Author{ID: "u-bob", Name: "Bob"}
)

func newTestDocument(t *testing.T, replica string) *Document {
	t.Helper()
	clock := testutil.NewDeterministicClock(time.Time{}, time.Second)
	return New(
		WithReplicaID(replica),
		WithNow(clock.Now),
		WithLogger(testutil.DiscardLogger()),
	)
}

func addRoot(t *testing.T, d *Document, text string, author ir.Author) (ir.ID, ir.Batch) {
	t.Helper()
	var id ir.ID
	batch, err := d.RunTransaction(func(tx *Txn) error {
		var err error
		id, err = tx.CreateNode(ir.RootID, text, author, nil)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, batch)
	return id, *batch
}

func mustApply(t *testing.T, d *Document, batches ...ir.Batch) {
	t.Helper()
	for _, b := range batches {
		_, err := d.Apply(b)
		require.NoError(t, err)
	}
}

func TestDocument_CreateAndProject(t *testing.T) {
	d := newTestDocument(t, "a")
	id, batch := addRoot(t, d, "hello", ann)

	assert.Equal(t, ir.ID{Seq: 1, Replica: "a"}, id)
	assert.Equal(t, "a", batch.Origin)
	assert.Len(t, batch.Ops, 2, "create + insert")
	assert.Equal(t, uint64(1), d.Version())

	tree := d.Project()
	require.Len(t, tree, 1)
	assert.Equal(t, "hello", tree[0].Text)
	assert.Equal(t, ann, tree[0].Author)
	assert.Equal(t, testutil.DefaultBase, tree[0].CreatedAt)
	assert.Nil(t, tree[0].UpdatedAt)
}

func TestDocument_TransactionAtomicity(t *testing.T) {
	d := newTestDocument(t, "a")
	c1, _ := addRoot(t, d, "hello", ann)
	before := d.Project()
	version := d.Version()

	events := 0
	d.Subscribe(func(Event) { events++ })

	boom := errors.New("boom")
	batch, err := d.RunTransaction(func(tx *Txn) error {
		if _, err := tx.CreateNode(ir.RootID, "one", ann, nil); err != nil {
			return err
		}
		if err := tx.SetText(c1, "changed", nil); err != nil {
			return err
		}
		if err := tx.SetTombstone(c1); err != nil {
			return err
		}
		staged := tx.Project()
		if assert.Len(t, staged, 1, "reads inside see staged writes") {
			assert.Equal(t, "one", staged[0].Text)
		}
		return boom
	})

	require.Error(t, err)
	assert.Nil(t, batch)
	assert.True(t, IsAborted(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, d.Project())
	assert.Equal(t, version, d.Version())
	assert.Zero(t, events, "aborted transaction fires nothing")
}

func TestDocument_PanicAborts(t *testing.T) {
	d := newTestDocument(t, "a")

	_, err := d.RunTransaction(func(tx *Txn) error {
		_, _ = tx.CreateNode(ir.RootID, "lost", ann, nil)
		panic("kaboom")
	})

	require.Error(t, err)
	assert.True(t, IsAborted(err))
	assert.Contains(t, err.Error(), "kaboom")
	assert.Empty(t, d.Project())

	// The document is still usable.
	addRoot(t, d, "after", ann)
	assert.Len(t, d.Project(), 1)
}

func TestDocument_EmptyTransactionCommitsNothing(t *testing.T) {
	d := newTestDocument(t, "a")
	events := 0
	d.Subscribe(func(Event) { events++ })

	batch, err := d.RunTransaction(func(*Txn) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Zero(t, events)
	assert.Zero(t, d.Version())
}

func TestDocument_OneEventPerTransaction(t *testing.T) {
	d := newTestDocument(t, "a")
	var got []Event
	unsubscribe := d.Subscribe(func(ev Event) { got = append(got, ev) })

	batch, err := d.RunTransaction(func(tx *Txn) error {
		parent, err := tx.CreateNode(ir.RootID, "parent", ann, nil)
		if err != nil {
			return err
		}
		if _, err := tx.CreateNode(parent, "reply", bob, nil); err != nil {
			return err
		}
		return tx.Touch(parent)
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	ev := got[0]
	assert.Equal(t, OriginLocal, ev.Origin)
	assert.Equal(t, uint64(1), ev.Version)
	assert.Equal(t, batch.ID, ev.Batch.ID)
	require.Len(t, ev.Tree, 1)
	assert.Len(t, ev.Tree[0].Replies, 1)
	assert.Len(t, ev.Changes.Added, 2)

	unsubscribe()
	unsubscribe()
	addRoot(t, d, "unseen", ann)
	assert.Len(t, got, 1)
}

func TestDocument_SubscribersGetPrivateTrees(t *testing.T) {
	d := newTestDocument(t, "a")
	var first, second []ir.ProjectedComment
	d.Subscribe(func(ev Event) {
		first = ev.Tree
		first[0].Text = "scribbled"
	})
	d.Subscribe(func(ev Event) { second = ev.Tree })

	addRoot(t, d, "hello", ann)
	assert.Equal(t, "hello", second[0].Text)
	assert.Equal(t, "hello", d.Project()[0].Text)
}

func TestDocument_ReentrantHandlerKeepsCommitOrder(t *testing.T) {
	d := newTestDocument(t, "a")
	var versions []uint64

	d.Subscribe(func(ev Event) {
		versions = append(versions, ev.Version)
		if ev.Version == 1 {
			// A handler may itself commit; its event comes after this one.
			_, err := d.RunTransaction(func(tx *Txn) error {
				_, err := tx.CreateNode(ir.RootID, "follow-up", bob, nil)
				return err
			})
			assert.NoError(t, err)
			assert.Equal(t, []uint64{1}, versions, "nested event is not delivered re-entrantly")
		}
	})

	addRoot(t, d, "first", ann)
	assert.Equal(t, []uint64{1, 2}, versions)
	assert.Len(t, d.Project(), 2)
}

func TestDocument_SubscriberPanicIsContained(t *testing.T) {
	d := newTestDocument(t, "a")
	calls := 0
	d.Subscribe(func(Event) { panic("bad handler") })
	d.Subscribe(func(Event) { calls++ })

	addRoot(t, d, "one", ann)
	addRoot(t, d, "two", ann)
	assert.Equal(t, 2, calls)
}

func TestDocument_UnknownNodeIsNotFound(t *testing.T) {
	d := newTestDocument(t, "a")
	ghost := ir.ID{Seq: 99, Replica: "z"}

	batch, err := d.RunTransaction(func(tx *Txn) error {
		err := tx.SetText(ghost, "x", nil)
		assert.True(t, crdt.IsNotFound(err))
		assert.True(t, crdt.IsNotFound(tx.SetTombstone(ghost)))
		assert.True(t, crdt.IsNotFound(tx.Touch(ghost)))
		_, err = tx.CreateNode(ghost, "orphan", ann, nil)
		assert.True(t, crdt.IsNotFound(err))
		assert.True(t, crdt.IsNotFound(tx.MarkRead(ghost)))
		return nil
	})

	require.NoError(t, err, "ignored not-found errors do not abort")
	assert.Nil(t, batch, "nothing was recorded")
}

func TestDocument_AppendChild(t *testing.T) {
	d := newTestDocument(t, "a")
	parent, _ := addRoot(t, d, "parent", ann)

	_, err := d.RunTransaction(func(tx *Txn) error {
		child, err := tx.NewNode("detached", bob, nil)
		if err != nil {
			return err
		}
		assert.Empty(t, tx.Children(parent))
		if err := tx.AppendChild(parent, child); err != nil {
			return err
		}
		assert.Equal(t, []ir.ID{child}, tx.Children(parent))

		err = tx.AppendChild(ir.RootID, child)
		assert.True(t, crdt.IsAlreadyAttached(err))
		return nil
	})
	require.NoError(t, err)

	tree := d.Project()
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, "detached", tree[0].Replies[0].Text)
}

func TestDocument_TxnClosedAfterReturn(t *testing.T) {
	d := newTestDocument(t, "a")
	var leaked *Txn
	_, err := d.RunTransaction(func(tx *Txn) error {
		leaked = tx
		return nil
	})
	require.NoError(t, err)

	_, err = leaked.CreateNode(ir.RootID, "late", ann, nil)
	assert.ErrorIs(t, err, ErrTxnClosed)
}

func TestDocument_ApplyDeduplicates(t *testing.T) {
	a := newTestDocument(t, "a")
	b := newTestDocument(t, "b")
	_, batch := addRoot(t, a, "hello", ann)

	events := 0
	b.Subscribe(func(ev Event) {
		events++
		assert.Equal(t, OriginRemote, ev.Origin)
	})

	changed, err := b.Apply(batch)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = b.Apply(batch)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, events, "one event per merged batch")

	// The originating replica ignores its own batch echoed back.
	changed, err = a.Apply(batch)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDocument_ApplyRejectsTamperedBatch(t *testing.T) {
	a := newTestDocument(t, "a")
	b := newTestDocument(t, "b")
	_, batch := addRoot(t, a, "hello", ann)

	batch.Ops[0].Create.Text = "forged"
	_, err := b.Apply(batch)
	assert.ErrorIs(t, err, ErrBatchID)
	assert.Empty(t, b.Project())
}

func TestDocument_ApplyAdvancesClock(t *testing.T) {
	a := newTestDocument(t, "a")
	b := newTestDocument(t, "b")
	for i := 0; i < 5; i++ {
		addRoot(t, a, "filler", ann)
	}
	snap, err := a.Snapshot()
	require.NoError(t, err)
	mustApply(t, b, snap)

	id, _ := addRoot(t, b, "after", bob)
	assert.Equal(t, int64(6), id.Seq, "local stamps follow observed ones")
}

func TestDocument_SnapshotReproducesState(t *testing.T) {
	a := newTestDocument(t, "a")
	c1, _ := addRoot(t, a, "hello", ann)
	_, err := a.RunTransaction(func(tx *Txn) error {
		if _, err := tx.CreateNode(c1, "reply", bob, nil); err != nil {
			return err
		}
		if err := tx.SetText(c1, "hello, edited", nil); err != nil {
			return err
		}
		_, err := tx.AddNotification(ir.Notification{Type: ir.NotificationReply, CommentID: c1, RecipientID: ann.ID})
		return err
	})
	require.NoError(t, err)

	snap, err := a.Snapshot()
	require.NoError(t, err)
	fresh := newTestDocument(t, "c")
	mustApply(t, fresh, snap)

	wantDigest, err := a.Digest()
	require.NoError(t, err)
	gotDigest, err := fresh.Digest()
	require.NoError(t, err)
	assert.Equal(t, wantDigest, gotDigest)
	assert.Equal(t, a.Project(), fresh.Project())
	assert.Equal(t, a.Notifications(), fresh.Notifications())
}

func TestDocument_SeedFromProjectedTree(t *testing.T) {
	a := newTestDocument(t, "a")
	c1, _ := addRoot(t, a, "hello", ann)
	_, err := a.RunTransaction(func(tx *Txn) error {
		if _, err := tx.CreateNode(c1, "reply", bob, nil); err != nil {
			return err
		}
		return tx.SetText(c1, "edited", nil)
	})
	require.NoError(t, err)
	addRoot(t, a, "second", bob)

	seeded := newTestDocument(t, "b")
	require.NoError(t, seeded.Seed(a.Project()))
	assert.Equal(t, a.Project(), seeded.Project())

	// The real history merges over the seed without duplicating nodes.
	snap, err := a.Snapshot()
	require.NoError(t, err)
	mustApply(t, seeded, snap)
	assert.Equal(t, a.Project(), seeded.Project())

	require.NoError(t, seeded.Seed(nil))
}

func TestDocument_SeedYieldsToHistory(t *testing.T) {
	a := newTestDocument(t, "a")
	x, bx := addRoot(t, a, "X", ann)
	aID, ba := addRoot(t, a, "A", ann)

	// c sees X and A, then appends D after A while a appends B.
	c := newTestDocument(t, "c")
	mustApply(t, c, bx, ba)
	_, bd := addRoot(t, c, "D", bob)
	_, bb := addRoot(t, a, "B", ann)
	bdel, err := a.RunTransaction(func(tx *Txn) error { return tx.SetTombstone(aID) })
	require.NoError(t, err)

	// a's saved tree never saw D, and A is gone from it.
	saved := a.Project()
	require.Len(t, saved, 2)
	assert.Equal(t, x, saved[0].ID)

	history := []ir.Batch{bx, ba, bd, bb, *bdel}

	plain := newTestDocument(t, "p")
	mustApply(t, plain, history...)

	seeded := newTestDocument(t, "s")
	require.NoError(t, seeded.Seed(saved))
	mustApply(t, seeded, history...)

	texts := func(d *Document) []string {
		var out []string
		for _, c := range d.Project() {
			out = append(out, c.Text)
		}
		return out
	}
	assert.Equal(t, []string{"X", "D", "B"}, texts(plain))
	assert.Equal(t, texts(plain), texts(seeded))
	assert.Equal(t, plain.Project(), seeded.Project())

	want, err := plain.Digest()
	require.NoError(t, err)
	got, err := seeded.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDocument_SeededTextYieldsToEdits(t *testing.T) {
	a := newTestDocument(t, "a")
	id, create := addRoot(t, a, "first", ann)
	edit, err := a.RunTransaction(func(tx *Txn) error { return tx.SetText(id, "second", nil) })
	require.NoError(t, err)

	// A stale save that predates the edit.
	stale := newTestDocument(t, "x")
	mustApply(t, stale, create)

	seeded := newTestDocument(t, "s")
	require.NoError(t, seeded.Seed(stale.Project()))
	mustApply(t, seeded, *edit, create)

	assert.Equal(t, a.Project(), seeded.Project())
}

func TestDocument_NotificationsAndChangeLog(t *testing.T) {
	d := newTestDocument(t, "a")
	c1, _ := addRoot(t, d, "hello", ann)

	var notif ir.ID
	_, err := d.RunTransaction(func(tx *Txn) error {
		var err error
		notif, err = tx.AddNotification(ir.Notification{Type: ir.NotificationMention, CommentID: c1, RecipientID: bob.ID, Author: ann})
		if err != nil {
			return err
		}
		_, err = tx.LogChange(ir.ChangeLogEntry{UserID: ann.ID, Action: ir.ChangeAdd, CommentID: c1})
		return err
	})
	require.NoError(t, err)

	list := d.Notifications()
	require.Len(t, list, 1)
	assert.Equal(t, notif, list[0].ID)
	assert.False(t, list[0].Read)
	assert.False(t, list[0].Timestamp.IsZero())

	_, err = d.RunTransaction(func(tx *Txn) error { return tx.MarkRead(notif) })
	require.NoError(t, err)
	assert.True(t, d.Notifications()[0].Read)

	// Marking again records nothing.
	batch, err := d.RunTransaction(func(tx *Txn) error { return tx.MarkRead(notif) })
	require.NoError(t, err)
	assert.Nil(t, batch)

	log := d.ChangeLog()
	require.Len(t, log, 1)
	assert.Equal(t, ir.ChangeAdd, log[0].Action)
}

func TestDocument_NewWithoutOptions(t *testing.T) {
	d := New(WithLogger(testutil.DiscardLogger()))
	assert.Len(t, d.ReplicaID(), 26)
	assert.Equal(t, d.ReplicaID(), d.Clock().Replica())

	clock := crdt.NewClockAt("resumed", 40)
	resumed := New(WithClock(clock), WithLogger(testutil.DiscardLogger()))
	assert.Equal(t, "resumed", resumed.ReplicaID())
	id, _ := addRoot(t, resumed, "x", ann)
	assert.Equal(t, int64(41), id.Seq)
}
