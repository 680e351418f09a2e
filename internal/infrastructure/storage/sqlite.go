package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattn/go-sqlite3"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
)

// Storage provides SQLite database access for the reconciliation engine.
// It implements the Repository interface.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage opens (or creates) the SQLite database at dbPath and runs all
// pending migrations.
func NewStorage(ctx context.Context, dbPath string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps PRAGMAs in effect and serializes writers.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db, logger: logger.With(slog.String("component", "storage"))}

	// Run all pending migrations
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Commit applies a changeset in a single transaction
func (s *Storage) Commit(ctx context.Context, cs *reconcile.Changeset) (err error) {
	if cs == nil || cs.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Audit first: if the log cannot be written nothing else is.
	for _, a := range cs.Audit {
		if err = insertAudit(ctx, tx, a); err != nil {
			return fmt.Errorf("failed to append audit entry %s: %w", a.ID, err)
		}
	}

	for _, ch := range cs.Expenses {
		e := ch.After
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE expenses
			SET status = ?, receipt_id = ?, miss_count = ?, updated_at = ?
			WHERE id = ? AND account_id = ? AND status = ?
		`, e.Status, e.ReceiptID, e.MissCount, e.UpdatedAt, e.ID, cs.AccountID, ch.Before)
		if err != nil {
			return fmt.Errorf("failed to update expense %s: %w", e.ID, err)
		}
		if err = requireRow(res, "expense", e.ID, ch.Before); err != nil {
			return err
		}
	}

	for _, ch := range cs.Receipts {
		r := ch.After
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE receipts
			SET status = ?, expense_id = ?, miss_count = ?, updated_at = ?
			WHERE id = ? AND account_id = ? AND status = ?
		`, r.Status, r.ExpenseID, r.MissCount, r.UpdatedAt, r.ID, cs.AccountID, ch.Before)
		if err != nil {
			return fmt.Errorf("failed to update receipt %s: %w", r.ID, err)
		}
		if err = requireRow(res, "receipt", r.ID, ch.Before); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, kind, id string, expected model.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &reconcile.ReferentialIntegrityError{Kind: kind, EntityID: id, Expected: expected}
	}
	return nil
}

// ListAccounts returns every account with at least one entity
func (s *Storage) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id FROM expenses
		UNION
		SELECT account_id FROM receipts
		ORDER BY account_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		accounts = append(accounts, id)
	}
	return accounts, rows.Err()
}

// GetStats returns per-status counts for both entity kinds
func (s *Storage) GetStats(ctx context.Context, accountID string) (*model.Stats, error) {
	stats := &model.Stats{AccountID: accountID}

	for _, q := range []struct {
		table  string
		counts *model.StatusCounts
	}{
		{"expenses", &stats.Expenses},
		{"receipts", &stats.Receipts},
	} {
		rows, err := s.db.QueryContext(ctx,
			`SELECT status, COUNT(*) FROM `+q.table+` WHERE account_id = ? GROUP BY status`, accountID)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var status model.Status
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				_ = rows.Close()
				return nil, err
			}
			q.counts.Add(status, n)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}
