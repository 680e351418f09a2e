package reconcile

import (
	"errors"
	"fmt"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

var (
	// ErrLockContention is returned when a pass is requested for an account
	// that already has one running. Callers retry later.
	ErrLockContention = errors.New("matching pass already running for account")

	// ErrTransactionFailure means an atomic commit did not go through.
	// Nothing was changed and the operation is safe to retry.
	ErrTransactionFailure = errors.New("transaction failure")

	// ErrReferentialIntegrity means an entity was not in the status a
	// transition expected, usually because it changed since the snapshot.
	ErrReferentialIntegrity = errors.New("referential integrity")

	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAccountMismatch   = errors.New("entities belong to different accounts")
)

// TransactionError wraps the storage failure behind an aborted commit.
type TransactionError struct {
	AccountID string
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("commit for account %s failed: %v", e.AccountID, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == ErrTransactionFailure }

// ReferentialIntegrityError names the entity whose status did not match.
type ReferentialIntegrityError struct {
	Kind     string // "expense" or "receipt"
	EntityID string
	Expected model.Status
	Actual   model.Status // empty when unknown, e.g. detected by a conditional update
}

func (e *ReferentialIntegrityError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("%s %s is no longer %s", e.Kind, e.EntityID, e.Expected)
	}
	return fmt.Sprintf("%s %s is %s, expected %s", e.Kind, e.EntityID, e.Actual, e.Expected)
}

func (e *ReferentialIntegrityError) Is(target error) bool { return target == ErrReferentialIntegrity }

// TransitionError is a status change the state machine does not allow.
type TransitionError struct {
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
