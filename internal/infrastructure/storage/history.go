package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
)

const auditColumns = `id, account_id, timestamp, actor, action, previous_status, new_status,
	expense_id, receipt_id, score, ref_entry_id`

func insertAudit(ctx context.Context, tx *sql.Tx, a model.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.AccountID,
		a.Timestamp,
		a.Actor,
		a.Action,
		a.PreviousStatus,
		a.NewStatus,
		a.ExpenseID,
		a.ReceiptID,
		a.Score,
		a.RefEntryID,
	)
	return err
}

// ListAudit returns audit entries, newest first
func (s *Storage) ListAudit(ctx context.Context, accountID string, limit int) ([]model.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE account_id = ? ORDER BY seq DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetAuditEntry retrieves one audit entry
func (s *Storage) GetAuditEntry(ctx context.Context, id string) (*model.AuditEntry, error) {
	a, err := scanAudit(s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit entry %s: %w", id, reconcile.ErrNotFound)
	}
	return a, err
}

func scanAudit(row rowScanner) (*model.AuditEntry, error) {
	var a model.AuditEntry
	err := row.Scan(
		&a.ID,
		&a.AccountID,
		&a.Timestamp,
		&a.Actor,
		&a.Action,
		&a.PreviousStatus,
		&a.NewStatus,
		&a.ExpenseID,
		&a.ReceiptID,
		&a.Score,
		&a.RefEntryID,
	)
	if err != nil {
		return nil, err
	}
	a.Timestamp = a.Timestamp.UTC()
	return &a, nil
}

// CreateReviewItem quarantines an input
func (s *Storage) CreateReviewItem(ctx context.Context, item *model.ReviewItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_items (id, account_id, source, external_id, receipt_url, field, reason, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.AccountID, item.Source, item.ExternalID, item.ReceiptURL,
		item.Field, item.Reason, item.Payload, item.CreatedAt)
	return err
}

// GetReviewItem retrieves a quarantined input
func (s *Storage) GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error) {
	item, err := scanReview(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, source, external_id, receipt_url, field, reason, payload, created_at
		FROM review_items WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review item %s: %w", id, reconcile.ErrNotFound)
	}
	return item, err
}

// ListReviewItems returns the review queue of an account, oldest first
func (s *Storage) ListReviewItems(ctx context.Context, accountID string) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, source, external_id, receipt_url, field, reason, payload, created_at
		FROM review_items WHERE account_id = ?
		ORDER BY created_at, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// DeleteReviewItem removes an item from the queue
func (s *Storage) DeleteReviewItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM review_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("review item %s: %w", id, reconcile.ErrNotFound)
	}
	return nil
}

func scanReview(row rowScanner) (*model.ReviewItem, error) {
	var item model.ReviewItem
	err := row.Scan(
		&item.ID,
		&item.AccountID,
		&item.Source,
		&item.ExternalID,
		&item.ReceiptURL,
		&item.Field,
		&item.Reason,
		&item.Payload,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

// StartMatchRun records the start of a matching pass
func (s *Storage) StartMatchRun(ctx context.Context, accountID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO match_runs (account_id, started_at, status)
		VALUES (?, ?, ?)
	`, accountID, time.Now().UTC(), model.RunRunning)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// CompleteMatchRun records the outcome of a matching pass
func (s *Storage) CompleteMatchRun(ctx context.Context, run *model.MatchRun) error {
	completed := time.Now().UTC()
	if run.CompletedAt != nil {
		completed = *run.CompletedAt
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE match_runs
		SET completed_at = ?,
		    status = ?,
		    matched = ?,
		    unmatched = ?,
		    reactivated = ?,
		    discarded = ?,
		    error = ?
		WHERE id = ?
	`, completed, run.Status, run.Matched, run.Unmatched, run.Reactivated, run.Discarded, run.Error, run.ID)
	return err
}

// ListMatchRuns returns recent runs, newest first
func (s *Storage) ListMatchRuns(ctx context.Context, accountID string, limit int) ([]model.MatchRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, started_at, completed_at, status,
		       matched, unmatched, reactivated, discarded, error
		FROM match_runs
		WHERE account_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []model.MatchRun
	for rows.Next() {
		var run model.MatchRun
		var completed sql.NullTime
		err := rows.Scan(
			&run.ID,
			&run.AccountID,
			&run.StartedAt,
			&completed,
			&run.Status,
			&run.Matched,
			&run.Unmatched,
			&run.Reactivated,
			&run.Discarded,
			&run.Error,
		)
		if err != nil {
			return nil, err
		}
		run.StartedAt = run.StartedAt.UTC()
		if completed.Valid {
			t := completed.Time.UTC()
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
