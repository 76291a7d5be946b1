package wallet

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by ledger operations. Callers distinguish
// rejection kinds with errors.Is / errors.As rather than message text.
var (
	// ErrInvalidRequest marks malformed input; storage is never touched.
	ErrInvalidRequest = errors.New("wallet: invalid request")
	// ErrNoActiveKey means no key satisfies the selection policy.
	ErrNoActiveKey = errors.New("wallet: no active key for user")
	// ErrKeyNotFound means an explicit key code does not exist.
	ErrKeyNotFound = errors.New("wallet: key not found")
	// ErrKeyOwnershipMismatch means the key belongs to a different user.
	ErrKeyOwnershipMismatch = errors.New("wallet: key belongs to another user")
)

// KeyNotActiveError reports a debit attempt against a non-active key,
// carrying the key's actual status.
type KeyNotActiveError struct {
	KeyCode string
	Status  string
}

func (e *KeyNotActiveError) Error() string {
	return fmt.Sprintf("wallet: key %s is not active (status %s)", e.KeyCode, e.Status)
}

// InsufficientBalanceError reports a debit larger than the remaining
// balance. AvailableMicros lets callers react without a second query.
type InsufficientBalanceError struct {
	KeyCode         string
	RequiredMicros  int64
	AvailableMicros int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("wallet: insufficient balance on key %s: need %d micros, have %d",
		e.KeyCode, e.RequiredMicros, e.AvailableMicros)
}

// StorageError wraps a failure from the key store. It is surfaced as-is so
// callers never confuse an unavailable store with a business rejection.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("wallet: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// wrapStorage normalizes a store failure into a StorageError.
func wrapStorage(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
