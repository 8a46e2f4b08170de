// Package presence shares ephemeral per-session state (who is online,
// where their cursor is, what they are typing into) alongside the durable
// document.
//
// Presence is deliberately weaker than the document: no history, no
// persistence, last-writer-wins per session, and entries that stop being
// refreshed simply age out. Losing it only affects what users see of each
// other.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/threadsync/internal/ir"
)

const (
	// DefaultMaxAge is how long a session stays visible without an update.
	DefaultMaxAge = 120 * time.Second

	// DefaultHeartbeat is how often a live session republishes itself.
	DefaultHeartbeat = 30 * time.Second
)

// Cursor is a caret position inside one comment's text, in runes.
type Cursor struct {
	CommentID ir.ID `json:"comment_id"`
	Offset    int   `json:"offset"`
}

// State is the part of a session its owner publishes.
type State struct {
	User          ir.Author `json:"user"`
	Cursor        *Cursor   `json:"cursor,omitempty"`
	ActiveComment ir.ID     `json:"active_comment,omitempty"`
	Typing        bool      `json:"typing"`
}

// Session is one peer's advertised state.
//
// Clock is the owner's own counter; a receiver keeps the update with the
// highest Clock per session. LastActive is when this replica last heard
// from the session, so staleness never depends on a peer's wall clock.
type Session struct {
	ID string `json:"id"`
	State
	Clock      uint64    `json:"clock"`
	LastActive time.Time `json:"last_active"`
	Left       bool      `json:"left,omitempty"`
}

// Channel holds every known session and broadcasts local changes.
//
// Thread-safety: all methods are safe for concurrent use.
type Channel struct {
	mu       sync.Mutex
	sessions map[string]Session
	// forgotten holds the last clock of each pruned session so a delayed
	// update cannot bring it back.
	forgotten map[string]uint64
	now       func() time.Time
	logger    *slog.Logger
	broadcast func(Session)

	subsMu  sync.Mutex
	subs    map[int]func()
	nextSub int
}

// Option configures a Channel.
type Option func(*Channel)

// WithNow replaces the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Channel) {
		c.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel creates an empty channel.
func NewChannel(opts ...Option) *Channel {
	c := &Channel{
		sessions:  make(map[string]Session),
		forgotten: make(map[string]uint64),
		now:       time.Now,
		logger:    slog.Default(),
		subs:      make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBroadcast installs the function that ships local updates to peers.
// Passing nil keeps updates local.
func (c *Channel) SetBroadcast(fn func(Session)) {
	c.mu.Lock()
	c.broadcast = fn
	c.mu.Unlock()
}

// Publish overwrites the advertised state of a local session and
// broadcasts it.
func (c *Channel) Publish(sessionID string, state State) Session {
	c.mu.Lock()
	prev := c.sessions[sessionID]
	s := Session{
		ID:         sessionID,
		State:      state,
		Clock:      max(prev.Clock, c.forgotten[sessionID]) + 1,
		LastActive: c.now(),
	}
	c.sessions[sessionID] = s
	delete(c.forgotten, sessionID)
	send := c.broadcast
	c.mu.Unlock()

	if send != nil {
		send(s)
	}
	c.notify()
	return s
}

// Leave announces that a local session is going away. Peers drop it
// immediately instead of waiting for it to age out.
func (c *Channel) Leave(sessionID string) {
	c.mu.Lock()
	prev, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	s := prev
	s.Clock++
	s.Left = true
	s.LastActive = c.now()
	c.sessions[sessionID] = s
	send := c.broadcast
	c.mu.Unlock()

	if send != nil {
		send(s)
	}
	c.notify()
}

// Apply merges a peer's update. Updates older than what is already known
// for the session, or than its last clock before it was pruned, are
// ignored. Reports whether anything changed.
func (c *Channel) Apply(update Session) bool {
	if update.ID == "" {
		return false
	}
	c.mu.Lock()
	prev, ok := c.sessions[update.ID]
	if ok && update.Clock <= prev.Clock || !ok && update.Clock <= c.forgotten[update.ID] {
		c.mu.Unlock()
		return false
	}
	update.LastActive = c.now()
	c.sessions[update.ID] = update
	delete(c.forgotten, update.ID)
	c.mu.Unlock()

	c.logger.Debug("presence update", "session", update.ID, "clock", update.Clock, "left", update.Left)
	c.notify()
	return true
}

// Get returns one session as last seen, stale or not.
func (c *Channel) Get(sessionID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// ActiveSessions returns sessions heard from within maxAge that have not
// left, ordered by session ID.
func (c *Channel) ActiveSessions(maxAge time.Duration) []Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		if !s.Left && now.Sub(s.LastActive) <= maxAge {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Session) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// OnlineUsers returns the distinct users of the active sessions, ordered by
// user ID.
func (c *Channel) OnlineUsers(maxAge time.Duration) []ir.Author {
	return distinctUsers(c.ActiveSessions(maxAge), func(Session) bool { return true })
}

// TypingUsers returns the distinct users of active sessions with the typing
// flag set.
func (c *Channel) TypingUsers(maxAge time.Duration) []ir.Author {
	return distinctUsers(c.ActiveSessions(maxAge), func(s Session) bool { return s.Typing })
}

func distinctUsers(sessions []Session, keep func(Session) bool) []ir.Author {
	seen := make(map[string]bool)
	var out []ir.Author
	for _, s := range sessions {
		if !keep(s) || seen[s.User.ID] {
			continue
		}
		seen[s.User.ID] = true
		out = append(out, s.User)
	}
	slices.SortFunc(out, func(a, b ir.Author) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Prune forgets sessions that left or have not been heard from within
// maxAge. Returns how many were removed.
func (c *Channel) Prune(maxAge time.Duration) int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for id, s := range c.sessions {
		if s.Left || now.Sub(s.LastActive) > maxAge {
			delete(c.sessions, id)
			c.forgotten[id] = s.Clock
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("pruned stale sessions", "count", removed)
		c.notify()
	}
	return removed
}

// Heartbeat republishes a local session's current state every interval
// until ctx is done. It returns ctx.Err().
func (c *Channel) Heartbeat(ctx context.Context, sessionID string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s, ok := c.Get(sessionID)
			if !ok || s.Left {
				continue
			}
			c.Publish(sessionID, s.State)
		}
	}
}

// OnChange registers fn to run after any session changes and returns a
// function that removes it.
func (c *Channel) OnChange(fn func()) (unsubscribe func()) {
	c.subsMu.Lock()
	key := c.nextSub
	c.nextSub++
	c.subs[key] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, key)
		c.subsMu.Unlock()
	}
}

func (c *Channel) notify() {
	c.subsMu.Lock()
	fns := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
