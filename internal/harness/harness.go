package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/threadsync/internal/crdt"
	"github.com/roach88/threadsync/internal/document"
	"github.com/roach88/threadsync/internal/ir"
	"github.com/roach88/threadsync/internal/projector"
	"github.com/roach88/threadsync/internal/replica"
	"github.com/roach88/threadsync/internal/testutil"
	"github.com/roach88/threadsync/internal/thread"
	"github.com/roach88/threadsync/internal/transport"
)

// maxSettleRounds bounds Settle. Every round either delivers frames or
// ends the loop; a room still busy after this many rounds is echoing.
const maxSettleRounds = 1000

// member is one replica of the room.
type member struct {
	doc     *document.Document
	tr      *transport.MemoryTransport
	replica *replica.Replica
	service *thread.Service
}

// Harness drives the replicas of one scenario.
type Harness struct {
	scenario *Scenario
	hub      *transport.Hub
	members  map[string]*member
	users    map[string]ir.Author
	refs     map[string]ir.ID
	names    map[ir.ID]string
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run builds a fresh hub, fresh documents and fresh clocks, so runs
// are isolated and reproducible. An error is returned only when the room
// cannot be set up; step and assertion failures are reported in the
// result.
func Run(scenario *Scenario) (*Result, error) {
	h, err := New(scenario)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.Step(ctx, step); err != nil {
			result.AddError(fmt.Sprintf("steps[%d] (%s on %s): %v", i, step.Action, step.Replica, err))
			break
		}
	}
	if err := h.Settle(ctx); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		result.AddError(msg)
	}
	for _, name := range scenario.Replicas {
		digest, err := h.members[name].doc.Digest()
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", name, err)
		}
		result.Digests[name] = digest
	}
	result.Outline = h.Outline(scenario.Replicas[0])
	return result, nil
}

// New joins every replica of scenario to a fresh in-memory room.
func New(scenario *Scenario) (*Harness, error) {
	room := scenario.Room
	if room == "" {
		room = scenario.Name
	}
	logger := testutil.DiscardLogger()
	h := &Harness{
		scenario: scenario,
		hub:      transport.NewHub(logger),
		members:  make(map[string]*member, len(scenario.Replicas)),
		users:    make(map[string]ir.Author, len(scenario.Users)),
		refs:     make(map[string]ir.ID),
		names:    make(map[ir.ID]string),
		logger:   logger,
	}
	for _, u := range scenario.Users {
		h.users[u.ID] = u
	}

	for _, name := range scenario.Replicas {
		clock := testutil.NewDeterministicClock(testutil.DefaultBase, 0)
		doc := document.New(
			document.WithReplicaID(name),
			document.WithNow(clock.Now),
			document.WithLogger(logger),
		)
		tr := h.hub.Join(room, name)
		rep, err := replica.New(room, doc, tr, replica.WithLogger(logger))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("replica %s: %w", name, err)
		}
		h.members[name] = &member{
			doc:     doc,
			tr:      tr,
			replica: rep,
			service: thread.NewService(doc, scenario.Users, logger),
		}
	}
	return h, nil
}

// Close detaches every replica and leaves the hub.
func (h *Harness) Close() {
	for _, m := range h.members {
		_ = m.replica.Close(context.Background())
		_ = m.tr.Close()
	}
}

// Document returns a replica's document.
func (h *Harness) Document(name string) *document.Document {
	if m, ok := h.members[name]; ok {
		return m.doc
	}
	return nil
}

// Ref returns the ID a step created under ref.
func (h *Harness) Ref(ref string) (ir.ID, bool) {
	id, ok := h.refs[ref]
	return id, ok
}

// Step runs one step. A step with ExpectError succeeds only if it fails
// with that class of error.
func (h *Harness) Step(ctx context.Context, step Step) error {
	err := h.do(ctx, step)
	if step.ExpectError == "" {
		return err
	}
	if err == nil {
		return fmt.Errorf("expected %s error, got success", step.ExpectError)
	}
	if got := classify(err); got != step.ExpectError {
		return fmt.Errorf("expected %s error, got %v", step.ExpectError, err)
	}
	return nil
}

func (h *Harness) do(ctx context.Context, step Step) error {
	if step.Action == ActionSync {
		return h.Settle(ctx)
	}
	m, ok := h.members[step.Replica]
	if !ok {
		return fmt.Errorf("unknown replica %q", step.Replica)
	}
	actor := h.users[step.As]

	switch step.Action {
	case ActionAdd:
		id, err := m.service.AddComment(actor, step.Text)
		if err != nil {
			return err
		}
		h.name(step.Ref, id)
	case ActionReply:
		id, err := m.service.Reply(actor, h.refs[step.Target], step.Text)
		if err != nil {
			return err
		}
		h.name(step.Ref, id)
	case ActionEdit:
		return m.service.Edit(actor, h.refs[step.Target], step.Text)
	case ActionDelete:
		return m.service.Delete(actor, h.refs[step.Target])
	case ActionMarkAllRead:
		return m.service.MarkAllRead(actor)
	case ActionDisconnect:
		m.tr.Disconnect()
	case ActionReconnect:
		m.tr.Reconnect()
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

func (h *Harness) name(ref string, id ir.ID) {
	h.refs[ref] = id
	h.names[id] = ref
}

// Settle delivers frames until no replica has any waiting.
func (h *Harness) Settle(ctx context.Context) error {
	for round := 0; round < maxSettleRounds; round++ {
		delivered := 0
		for _, name := range h.scenario.Replicas {
			delivered += h.members[name].replica.Poll(ctx)
		}
		if delivered == 0 {
			return nil
		}
	}
	return fmt.Errorf("room did not settle after %d rounds", maxSettleRounds)
}

// Outline renders a replica's visible thread with comments named by ref,
// followed by each user's unread notification count:
//
//	- p Ann: "parent" (edited)
//	  - r1 Bob: "reply"
//	unread:
//	  u1 Ann: 1
func (h *Harness) Outline(name string) string {
	m := h.members[name]
	var b strings.Builder
	tree := m.doc.Project()
	if len(tree) == 0 {
		b.WriteString("(empty)\n")
	}
	projector.Walk(tree, func(c ir.ProjectedComment, depth int) bool {
		b.WriteString(strings.Repeat("  ", depth))
		fmt.Fprintf(&b, "- %s %s: %q", h.label(c.ID), c.Author.Name, c.Text)
		if c.Edited() {
			b.WriteString(" (edited)")
		}
		b.WriteByte('\n')
		return true
	})
	if len(h.scenario.Users) > 0 {
		b.WriteString("unread:\n")
		for _, u := range h.scenario.Users {
			fmt.Fprintf(&b, "  %s %s: %d\n", u.ID, u.Name, len(m.service.Unread(u.ID)))
		}
	}
	return b.String()
}

func (h *Harness) label(id ir.ID) string {
	if ref, ok := h.names[id]; ok {
		return ref
	}
	return id.String()
}

// classify maps a service error to its expect_error class.
func classify(err error) string {
	switch {
	case errors.Is(err, thread.ErrUnauthorized):
		return "unauthorized"
	case crdt.IsNotFound(err):
		return "not_found"
	case errors.Is(err, thread.ErrEmptyText):
		return "empty_text"
	case errors.Is(err, thread.ErrTextTooLong):
		return "too_long"
	}
	return "other"
}
