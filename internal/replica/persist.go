package replica

import (
	"context"
	"fmt"
	"time"
)

// scheduleSave marks the tree dirty and (re)arms the debounce timer.
func (r *Replica) scheduleSave() {
	if r.snapshots == nil {
		return
	}
	r.saveMu.Lock()
	if r.closed {
		r.saveMu.Unlock()
		return
	}
	r.dirty = true
	if r.debounce <= 0 {
		r.saveMu.Unlock()
		if err := r.Flush(context.Background()); err != nil {
			r.logger.Error("snapshot save failed", "error", err)
		}
		return
	}
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.saveTimer = time.AfterFunc(r.debounce, func() {
		if err := r.Flush(context.Background()); err != nil {
			r.logger.Error("snapshot save failed", "error", err)
		}
	})
	r.saveMu.Unlock()
}

// Flush saves the tree now if it changed since the last save.
func (r *Replica) Flush(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if r.saveTimer != nil {
		r.saveTimer.Stop()
		r.saveTimer = nil
	}
	if !r.dirty {
		return nil
	}

	tree := r.doc.Project()
	if err := r.snapshots.Save(ctx, r.room, tree); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	r.dirty = false
	r.logger.Debug("snapshot saved", "roots", len(tree))
	return nil
}
