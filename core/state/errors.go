package state

import (
	"errors"
	"fmt"
)

var (
	// ErrNonceMismatch marks a transaction whose nonce does not equal the
	// sender's current account nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrInsufficientFunds marks a transaction whose sender cannot cover
	// value plus the maximum gas charge.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// NonceMismatchError reports the expected and presented nonce so callers can
// distinguish a stale transaction (nonce already used) from a premature one.
type NonceMismatchError struct {
	Want uint64
	Got  uint64
}

func (e *NonceMismatchError) Error() string {
	return fmt.Sprintf("nonce mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *NonceMismatchError) Is(target error) bool {
	return target == ErrNonceMismatch
}

// Stale reports whether the transaction's nonce is already consumed and can
// therefore never become valid.
func (e *NonceMismatchError) Stale() bool {
	return e.Got < e.Want
}
