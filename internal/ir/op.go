package ir

import (
	"fmt"
	"time"
)

// OpKind tags the payload carried by an Op.
type OpKind string

const (
	// OpCreate introduces a node. Target is the new node's ID and equals Stamp.
	OpCreate OpKind = "create"
	// OpInsert places Target in a container sequence after a predecessor.
	OpInsert OpKind = "insert"
	// OpSetText writes the text register (text and mentions together).
	OpSetText OpKind = "set_text"
	// OpTouch writes the updated_at register only.
	OpTouch OpKind = "touch"
	// OpTombstone marks Target deleted. It carries no payload.
	OpTombstone OpKind = "tombstone"
	// OpNotify appends a notification. Target is the notification ID.
	OpNotify OpKind = "notify"
	// OpMarkRead flips a notification's read flag. It carries no payload.
	OpMarkRead OpKind = "mark_read"
	// OpLogChange appends a change-log entry. Target is the entry ID.
	OpLogChange OpKind = "log_change"
)

// Op is one replicated operation.
//
// Op is a tagged variant: Kind selects which single payload pointer is set.
// Stamp is the Lamport stamp that orders the op against concurrent writes
// to the same register.
type Op struct {
	Kind   OpKind `json:"kind"`
	Stamp  ID     `json:"stamp"`
	Target ID     `json:"target"`

	Create  *CreatePayload  `json:"create,omitempty"`
	Insert  *InsertPayload  `json:"insert,omitempty"`
	SetText *SetTextPayload `json:"set_text,omitempty"`
	Touch   *TouchPayload   `json:"touch,omitempty"`
	Notify  *Notification   `json:"notify,omitempty"`
	Change  *ChangeLogEntry `json:"change,omitempty"`
}

// CreatePayload holds a node's immutable creation fields and its initial
// text register.
//
// Provisional marks a create rebuilt from a saved projection rather than
// taken from history. It shows the node until the real create arrives and
// then yields to it.
type CreatePayload struct {
	Author      Author    `json:"author"`
	Text        string    `json:"text"`
	Mentions    []Mention `json:"mentions"`
	CreatedAt   time.Time `json:"created_at"`
	Provisional bool      `json:"provisional,omitempty"`
}

// InsertPayload places the target node in Container's child sequence,
// immediately after After. A zero After means the head of the sequence.
// A zero Container means the root sequence.
//
// A Provisional placement comes from a saved projection. Any placement
// from history beats it.
type InsertPayload struct {
	Container   ID   `json:"container"`
	After       ID   `json:"after"`
	Provisional bool `json:"provisional,omitempty"`
}

// SetTextPayload is a text register write.
type SetTextPayload struct {
	Text      string    `json:"text"`
	Mentions  []Mention `json:"mentions"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TouchPayload is an updated_at register write that leaves text alone.
type TouchPayload struct {
	At time.Time `json:"at"`
}

// Validate checks the op against its schema: exactly the payload named by
// Kind must be present, and the stamps must be well formed.
func (op Op) Validate() error {
	if op.Stamp.IsZero() {
		return fmt.Errorf("op %s: stamp is required", op.Kind)
	}
	if op.Target.IsZero() {
		return fmt.Errorf("op %s: target is required", op.Kind)
	}

	present := 0
	for _, set := range []bool{
		op.Create != nil, op.Insert != nil, op.SetText != nil,
		op.Touch != nil, op.Notify != nil, op.Change != nil,
	} {
		if set {
			present++
		}
	}

	want := 1
	switch op.Kind {
	case OpCreate:
		if op.Create == nil {
			return fmt.Errorf("op create: missing create payload")
		}
		if op.Target != op.Stamp {
			return fmt.Errorf("op create: target %s must equal stamp %s", op.Target, op.Stamp)
		}
	case OpInsert:
		if op.Insert == nil {
			return fmt.Errorf("op insert: missing insert payload")
		}
		if op.Insert.After == op.Target {
			return fmt.Errorf("op insert: %s cannot follow itself", op.Target)
		}
		if op.Insert.Container == op.Target {
			return fmt.Errorf("op insert: %s cannot contain itself", op.Target)
		}
	case OpSetText:
		if op.SetText == nil {
			return fmt.Errorf("op set_text: missing set_text payload")
		}
	case OpTouch:
		if op.Touch == nil {
			return fmt.Errorf("op touch: missing touch payload")
		}
	case OpTombstone, OpMarkRead:
		want = 0
	case OpNotify:
		if op.Notify == nil {
			return fmt.Errorf("op notify: missing notify payload")
		}
		if op.Notify.ID != op.Target {
			return fmt.Errorf("op notify: notification id %s must equal target %s", op.Notify.ID, op.Target)
		}
	case OpLogChange:
		if op.Change == nil {
			return fmt.Errorf("op log_change: missing change payload")
		}
		if op.Change.ID != op.Target {
			return fmt.Errorf("op log_change: entry id %s must equal target %s", op.Change.ID, op.Target)
		}
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}

	if present != want {
		return fmt.Errorf("op %s: expected %d payload(s), found %d", op.Kind, want, present)
	}
	return nil
}
