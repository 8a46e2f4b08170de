package document

import (
	"errors"
	"fmt"
)

// TxnError reports an aborted transaction. Nothing the transaction staged
// was committed, broadcast or observed.
type TxnError struct {
	// Cause is the error returned by the transaction function, or a
	// description of the panic it raised.
	Cause error
}

// Error implements the error interface.
func (e *TxnError) Error() string {
	return fmt.Sprintf("transaction aborted: %v", e.Cause)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *TxnError) Unwrap() error {
	return e.Cause
}

// IsAborted returns true if err is (or wraps) a TxnError.
func IsAborted(err error) bool {
	var te *TxnError
	return errors.As(err, &te)
}

// ErrTxnClosed is returned by Txn methods called after the transaction
// function returned.
var ErrTxnClosed = errors.New("transaction is closed")

// ErrBatchID is returned by Apply when a batch's ID does not match its
// content.
var ErrBatchID = errors.New("batch id does not match content")
