// Package reconcile holds the status state machine shared by expenses and
// receipts and the Changeset that carries a batch of transitions, together
// with their audit entries, to a single atomic commit.
//
// Allowed transitions:
//
//	pending   -> matched    automatic or manual match, both sides
//	pending   -> unmatched  no candidate above the floor for N passes
//	matched   -> pending    unlink or undo, both sides
//	unmatched -> pending    a new candidate appeared
//
// No state is terminal.
package reconcile

import "github.com/eshaffer321/receipt-reconciler/internal/domain/model"

var transitions = map[model.Status][]model.Status{
	model.StatusPending:   {model.StatusMatched, model.StatusUnmatched},
	model.StatusMatched:   {model.StatusPending},
	model.StatusUnmatched: {model.StatusPending},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns a *TransitionError when from -> to is not allowed.
func Transition(from, to model.Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
