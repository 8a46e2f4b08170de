package crdt

import (
	"errors"
	"fmt"

	"github.com/roach88/threadsync/internal/ir"
)

// StoreError reports a local mutation the store refused.
//
// Merges never produce a StoreError: remote conflicts are resolved by the
// join, not raised. Local callers see one when they reference a node the
// store has never seen, re-attach a node, or hand in a malformed op.
type StoreError struct {
	// Code identifies the error category.
	Code StoreErrorCode

	// Message is a human-readable description.
	Message string

	// NodeID is the node the mutation referenced, if any.
	NodeID ir.ID
}

// StoreErrorCode categorizes store errors.
type StoreErrorCode string

const (
	// ErrCodeNotFound indicates the referenced node does not exist.
	ErrCodeNotFound StoreErrorCode = "NOT_FOUND"

	// ErrCodeAlreadyAttached indicates the node already has a placement.
	ErrCodeAlreadyAttached StoreErrorCode = "ALREADY_ATTACHED"

	// ErrCodeInvalidOp indicates an op failed schema validation.
	ErrCodeInvalidOp StoreErrorCode = "INVALID_OP"
)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if !e.NodeID.IsZero() {
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFound builds an ErrCodeNotFound error for id.
func NotFound(id ir.ID) *StoreError {
	return &StoreError{Code: ErrCodeNotFound, Message: "node does not exist", NodeID: id}
}

// IsNotFound returns true if the error is a not-found error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyAttached returns true if the error is an already-attached error.
func IsAlreadyAttached(err error) bool {
	return hasCode(err, ErrCodeAlreadyAttached)
}

// IsInvalidOp returns true if the error is a schema violation.
func IsInvalidOp(err error) bool {
	return hasCode(err, ErrCodeInvalidOp)
}

func hasCode(err error, code StoreErrorCode) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
