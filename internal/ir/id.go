package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a node, a notification, a change-log entry or an operation.
//
// An ID is a Lamport stamp: Seq comes from the issuing replica's logical
// clock and Replica is that replica's random identifier. IDs are unique
// across replicas without coordination and totally ordered by Compare.
//
// The zero ID is reserved. It names the root container and the head of
// every sequence.
type ID struct {
	Seq     int64
	Replica string
}

// RootID is the container of top-level comments.
var RootID = ID{}

// IsZero reports whether id is the reserved zero ID.
func (id ID) IsZero() bool {
	return id.Seq == 0 && id.Replica == ""
}

// Compare orders IDs by Seq, then by Replica bytes.
// Returns -1, 0 or +1.
func (id ID) Compare(other ID) int {
	switch {
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	}
	return strings.Compare(id.Replica, other.Replica)
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// String returns the text form "<seq>@<replica>", or "" for the zero ID.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return strconv.FormatInt(id.Seq, 10) + "@" + id.Replica
}

// ParseID parses the text form produced by String.
// The empty string parses to the zero ID.
func ParseID(s string) (ID, error) {
	if s == "" {
		return ID{}, nil
	}
	seqPart, replica, ok := strings.Cut(s, "@")
	if !ok || replica == "" {
		return ID{}, fmt.Errorf("invalid id %q: expected <seq>@<replica>", s)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if seq <= 0 {
		return ID{}, fmt.Errorf("invalid id %q: seq must be positive", s)
	}
	return ID{Seq: seq, Replica: replica}, nil
}

// MustParseID is like ParseID but panics on error.
// Use only in tests or with known-good input.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := ParseID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
