package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/index"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
)

// LinkResult is the state after a manual link change.
type LinkResult struct {
	Expense model.Expense    `json:"expense"`
	Receipt model.Receipt    `json:"receipt"`
	Audit   model.AuditEntry `json:"audit"`
}

// UndoneMatch is one reversed auto match.
type UndoneMatch struct {
	OriginalEntryID string           `json:"original_entry_id"`
	Expense         model.Expense    `json:"expense"`
	Receipt         model.Receipt    `json:"receipt"`
	Audit           model.AuditEntry `json:"audit"`
}

// ManualMatch links an expense and a receipt chosen by the user. Unmatched
// sides are reactivated first; a side that is already matched is rejected.
func (s *ReconcileService) ManualMatch(ctx context.Context, expenseID, receiptID string) (*LinkResult, error) {
	probe, err := s.storage.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	var result *LinkResult
	err = s.withAccount(ctx, probe.AccountID, func(st *accountState) error {
		// Reload under the lock.
		e, err := s.storage.GetExpense(ctx, expenseID)
		if err != nil {
			return err
		}
		r, err := s.storage.GetReceipt(ctx, receiptID)
		if err != nil {
			return err
		}
		if r.AccountID != e.AccountID {
			return fmt.Errorf("%w: receipt %s belongs to %s", reconcile.ErrAccountMismatch, r.ID, r.AccountID)
		}

		cs := reconcile.NewChangeset(e.AccountID, s.now())
		if e.Status == model.StatusUnmatched {
			if _, err := cs.ReactivateExpense(*e, model.ActorUser); err != nil {
				return err
			}
		}
		if r.Status == model.StatusUnmatched {
			if _, err := cs.ReactivateReceipt(*r, model.ActorUser); err != nil {
				return err
			}
		}

		// Manual links bypass the threshold; the score is kept for the record.
		score := 0.0
		if c, ok := s.matcher.Score(index.ExpenseItem(*e), index.ReceiptItem(*r)); ok {
			score = c.Score
		}
		entry, err := cs.Match(*e, *r, model.ActorUser, model.ActionManualMatch, score)
		if err != nil {
			return err
		}
		if err := s.commit(ctx, st, cs); err != nil {
			return err
		}

		ne, _ := cs.Expense(e.ID)
		nr, _ := cs.Receipt(r.ID)
		result = &LinkResult{Expense: ne, Receipt: nr, Audit: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("manual match",
		slog.String("account_id", result.Expense.AccountID),
		slog.String("expense_id", expenseID),
		slog.String("receipt_id", receiptID),
		slog.Float64("score", result.Audit.Score),
	)
	return result, nil
}

// Unlink breaks the match of an expense and returns both sides to pending.
func (s *ReconcileService) Unlink(ctx context.Context, expenseID string) (*LinkResult, error) {
	probe, err := s.storage.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	var result *LinkResult
	err = s.withAccount(ctx, probe.AccountID, func(st *accountState) error {
		e, err := s.storage.GetExpense(ctx, expenseID)
		if err != nil {
			return err
		}
		if e.Status != model.StatusMatched {
			return &reconcile.ReferentialIntegrityError{
				Kind: "expense", EntityID: e.ID, Expected: model.StatusMatched, Actual: e.Status,
			}
		}
		r, err := s.storage.GetReceipt(ctx, e.ReceiptID)
		if err != nil {
			return err
		}

		cs := reconcile.NewChangeset(e.AccountID, s.now())
		entry, err := cs.Unlink(*e, *r, model.ActorUser, model.ActionUnlink, "")
		if err != nil {
			return err
		}
		if err := s.commit(ctx, st, cs); err != nil {
			return err
		}
		ne, _ := cs.Expense(e.ID)
		nr, _ := cs.Receipt(r.ID)
		result = &LinkResult{Expense: ne, Receipt: nr, Audit: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("match unlinked",
		slog.String("account_id", result.Expense.AccountID),
		slog.String("expense_id", result.Expense.ID),
		slog.String("receipt_id", result.Receipt.ID),
	)
	return result, nil
}

// UndoLastMatches reverses up to n of the most recent automatic matches of an
// account, newest first, in one commit. A match is eligible while it has not
// been undone yet, it is the latest entry touching either side, and both
// sides are still linked to each other.
func (s *ReconcileService) UndoLastMatches(ctx context.Context, accountID string, n int) ([]UndoneMatch, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidInput, n)
	}

	undone := []UndoneMatch{}
	err := s.withAccount(ctx, accountID, func(st *accountState) error {
		entries, err := s.storage.ListAudit(ctx, accountID, 0)
		if err != nil {
			return fmt.Errorf("failed to load audit log: %w", err)
		}

		reversed := make(map[string]bool)
		for _, a := range entries {
			if a.Action == model.ActionUndo && a.RefEntryID != "" {
				reversed[a.RefEntryID] = true
			}
		}

		cs := reconcile.NewChangeset(accountID, s.now())
		newer := make(map[string]bool) // ids touched by an entry newer than the current one
		for _, a := range entries {
			if len(undone) == n {
				break
			}
			eligible := a.Action == model.ActionAutoMatch &&
				!reversed[a.ID] && !newer[a.ExpenseID] && !newer[a.ReceiptID]
			newer[a.ExpenseID], newer[a.ReceiptID] = true, true
			if !eligible {
				continue
			}

			e, err := s.storage.GetExpense(ctx, a.ExpenseID)
			if err != nil {
				return err
			}
			r, err := s.storage.GetReceipt(ctx, a.ReceiptID)
			if err != nil {
				return err
			}
			if e.Status != model.StatusMatched || e.ReceiptID != r.ID || r.ExpenseID != e.ID {
				continue
			}

			entry, err := cs.Unlink(*e, *r, model.ActorUser, model.ActionUndo, a.ID)
			if err != nil {
				return err
			}
			ne, _ := cs.Expense(e.ID)
			nr, _ := cs.Receipt(r.ID)
			undone = append(undone, UndoneMatch{OriginalEntryID: a.ID, Expense: ne, Receipt: nr, Audit: entry})
		}
		if cs.Empty() {
			return nil
		}
		return s.commit(ctx, st, cs)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("matches undone",
		slog.String("account_id", accountID),
		slog.Int("requested", n),
		slog.Int("undone", len(undone)),
	)
	return undone, nil
}
