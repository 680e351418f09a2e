package storage

import (
	"context"
	"errors"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
)

// ErrDuplicate is returned when an expense with the same (account, external
// id) already exists.
var ErrDuplicate = errors.New("duplicate external id")

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, in-memory mock)
// and makes testing the reconciliation service straightforward.
type Repository interface {
	ExpenseRepository
	ReceiptRepository
	AuditRepository
	ReviewRepository
	MatchRunRepository

	// Commit applies a changeset atomically: audit entries are written first,
	// then every entity update, conditional on the entity still having its
	// Before status. A failed condition aborts the whole commit with a
	// *reconcile.ReferentialIntegrityError naming the stale entity.
	Commit(ctx context.Context, cs *reconcile.Changeset) error

	// ListAccounts returns every account that owns an expense or a receipt
	ListAccounts(ctx context.Context) ([]string, error)

	// GetStats returns per-status counts for an account
	GetStats(ctx context.Context, accountID string) (*model.Stats, error)

	Close() error
}

// ExpenseRepository handles expense rows
type ExpenseRepository interface {
	// CreateExpense inserts a new expense. ErrDuplicate when its external id
	// is already known for the account.
	CreateExpense(ctx context.Context, e *model.Expense) error

	// GetExpense returns reconcile.ErrNotFound when the id is unknown
	GetExpense(ctx context.Context, id string) (*model.Expense, error)

	// FindExpenseByExternalID returns nil, nil when absent
	FindExpenseByExternalID(ctx context.Context, accountID, externalID string) (*model.Expense, error)

	// ListExpenses returns the expenses of an account, oldest first.
	// An empty status returns all of them.
	ListExpenses(ctx context.Context, accountID string, status model.Status) ([]model.Expense, error)
}

// ReceiptRepository handles receipt rows
type ReceiptRepository interface {
	CreateReceipt(ctx context.Context, r *model.Receipt) error
	GetReceipt(ctx context.Context, id string) (*model.Receipt, error)
	ListReceipts(ctx context.Context, accountID string, status model.Status) ([]model.Receipt, error)
}

// AuditRepository reads the append-only audit log. Entries are only ever
// written through Commit.
type AuditRepository interface {
	// ListAudit returns entries newest first. limit <= 0 returns all.
	ListAudit(ctx context.Context, accountID string, limit int) ([]model.AuditEntry, error)

	GetAuditEntry(ctx context.Context, id string) (*model.AuditEntry, error)
}

// ReviewRepository handles quarantined inputs
type ReviewRepository interface {
	CreateReviewItem(ctx context.Context, item *model.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error)
	ListReviewItems(ctx context.Context, accountID string) ([]model.ReviewItem, error)
	DeleteReviewItem(ctx context.Context, id string) error
}

// MatchRunRepository handles matching pass tracking
type MatchRunRepository interface {
	// StartMatchRun records the start of a pass and returns the run ID
	StartMatchRun(ctx context.Context, accountID string) (int64, error)

	// CompleteMatchRun records the outcome of a pass
	CompleteMatchRun(ctx context.Context, run *model.MatchRun) error

	// ListMatchRuns returns recent runs, newest first
	ListMatchRuns(ctx context.Context, accountID string, limit int) ([]model.MatchRun, error)
}
