package document

import (
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/projector"
)

// Origin says where a committed batch came from.
type Origin string

const (
	// OriginLocal marks a batch committed by RunTransaction on this replica.
	OriginLocal Origin = "local"
	// OriginRemote marks a batch merged through Apply or Seed.
	OriginRemote Origin = "remote"
)

// Event describes one commit.
//
// Tree is the projection right after the commit; each subscriber receives
// its own copy. Changes is the visible difference from the previous event.
type Event struct {
	Version uint64
	Origin  Origin
	Batch   ir.Batch
	Tree    []ir.ProjectedComment
	Changes projector.Changes
}

// Subscribe registers fn for every future commit and returns a function
// that removes it. Unsubscribing twice is harmless.
//
// Handlers run after the commit's lock is released, one event at a time and
// in commit order. A handler may run transactions; their events are
// delivered after the current one.
func (d *Document) Subscribe(fn func(Event)) (unsubscribe func()) {
	d.subsMu.Lock()
	key := d.nextSub
	d.nextSub++
	d.subs[key] = fn
	d.subsMu.Unlock()

	return func() {
		d.subsMu.Lock()
		delete(d.subs, key)
		d.subsMu.Unlock()
	}
}

// dispatch delivers queued events unless a caller further up is already
// doing so.
func (d *Document) dispatch() {
	if !d.queue.acquire() {
		return
	}
	for {
		ev, ok := d.queue.next()
		if !ok {
			return
		}
		for _, fn := range d.handlers() {
			d.deliver(fn, ev)
		}
	}
}

func (d *Document) handlers() []func(Event) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()

	// Subscription order is not part of the contract; registration order
	// keeps test output stable.
	out := make([]func(Event), 0, len(d.subs))
	for key := 0; key < d.nextSub; key++ {
		if fn, ok := d.subs[key]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (d *Document) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked", "version", ev.Version, "panic", r)
		}
	}()
	ev.Tree = projector.Clone(ev.Tree)
	fn(ev)
}
