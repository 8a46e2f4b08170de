package projector

import (
	"sync"

	"github.com/roach88/threadsync/internal/ir"
)

// Memo caches the last projection, keyed by the document's change counter.
// Callers get a private copy, so the cached tree is never aliased.
type Memo struct {
	mu      sync.Mutex
	valid   bool
	version uint64
	tree    []ir.ProjectedComment
}

// Get returns the projection for version, projecting r only when the
// version moved since the last call.
func (m *Memo) Get(version uint64, r Reader) []ir.ProjectedComment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.valid || m.version != version {
		m.tree = Project(r)
		m.version = version
		m.valid = true
	}
	return Clone(m.tree)
}

// Invalidate drops the cached tree.
func (m *Memo) Invalidate() {
	m.mu.Lock()
	m.valid = false
	m.tree = nil
	m.mu.Unlock()
}
