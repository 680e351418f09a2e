package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
)

const dateLayout = "2006-01-02"

const expenseColumns = `id, account_id, date, amount, merchant, merchant_tokens, category, type,
	status, receipt_id, external_id, source, miss_count, created_at, updated_at`

const receiptColumns = `id, account_id, url, uploaded_at, ocr_json, amount, date, merchant,
	merchant_tokens, status, expense_id, miss_count, created_at, updated_at`

// CreateExpense inserts a new expense
func (s *Storage) CreateExpense(ctx context.Context, e *model.Expense) error {
	tokens, err := json.Marshal(nonNil(e.MerchantTokens))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.AccountID,
		e.Date.Format(dateLayout),
		e.Amount.String(),
		e.Merchant,
		string(tokens),
		e.Category,
		e.Type,
		e.Status,
		e.ReceiptID,
		e.ExternalID,
		e.Source,
		e.MissCount,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("expense %s/%s: %w", e.AccountID, e.ExternalID, ErrDuplicate)
	}
	return err
}

// GetExpense retrieves an expense by ID
func (s *Storage) GetExpense(ctx context.Context, id string) (*model.Expense, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense %s: %w", id, reconcile.ErrNotFound)
	}
	return e, err
}

// FindExpenseByExternalID looks up a bank-feed expense
func (s *Storage) FindExpenseByExternalID(ctx context.Context, accountID, externalID string) (*model.Expense, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE account_id = ? AND external_id = ?`,
		accountID, externalID)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ListExpenses returns the expenses of an account ordered by creation
func (s *Storage) ListExpenses(ctx context.Context, accountID string, status model.Status) ([]model.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE account_id = ?`
	args := []any{accountID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanExpense(row rowScanner) (*model.Expense, error) {
	var e model.Expense
	var date, amount, tokens string
	err := row.Scan(
		&e.ID,
		&e.AccountID,
		&date,
		&amount,
		&e.Merchant,
		&tokens,
		&e.Category,
		&e.Type,
		&e.Status,
		&e.ReceiptID,
		&e.ExternalID,
		&e.Source,
		&e.MissCount,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Date, err = time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("expense %s: bad date %q: %w", e.ID, date, err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("expense %s: bad amount %q: %w", e.ID, amount, err)
	}
	if err := json.Unmarshal([]byte(tokens), &e.MerchantTokens); err != nil {
		return nil, fmt.Errorf("expense %s: bad merchant tokens: %w", e.ID, err)
	}
	e.CreatedAt, e.UpdatedAt = e.CreatedAt.UTC(), e.UpdatedAt.UTC()
	return &e, nil
}

// CreateReceipt inserts a new receipt
func (s *Storage) CreateReceipt(ctx context.Context, r *model.Receipt) error {
	tokens, err := json.Marshal(nonNil(r.MerchantTokens))
	if err != nil {
		return err
	}
	ocr, err := json.Marshal(r.OCR)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.AccountID,
		r.URL,
		r.UploadedAt,
		string(ocr),
		r.Amount.String(),
		r.Date.Format(dateLayout),
		r.Merchant,
		string(tokens),
		r.Status,
		r.ExpenseID,
		r.MissCount,
		r.CreatedAt,
		r.UpdatedAt,
	)
	return err
}

// GetReceipt retrieves a receipt by ID
func (s *Storage) GetReceipt(ctx context.Context, id string) (*model.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, reconcile.ErrNotFound)
	}
	return r, err
}

// ListReceipts returns the receipts of an account ordered by creation
func (s *Storage) ListReceipts(ctx context.Context, accountID string, status model.Status) ([]model.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE account_id = ?`
	args := []any{accountID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReceipt(row rowScanner) (*model.Receipt, error) {
	var r model.Receipt
	var ocr, amount, date, tokens string
	err := row.Scan(
		&r.ID,
		&r.AccountID,
		&r.URL,
		&r.UploadedAt,
		&ocr,
		&amount,
		&date,
		&r.Merchant,
		&tokens,
		&r.Status,
		&r.ExpenseID,
		&r.MissCount,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ocr), &r.OCR); err != nil {
		return nil, fmt.Errorf("receipt %s: bad ocr metadata: %w", r.ID, err)
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("receipt %s: bad amount %q: %w", r.ID, amount, err)
	}
	if r.Date, err = time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("receipt %s: bad date %q: %w", r.ID, date, err)
	}
	if err := json.Unmarshal([]byte(tokens), &r.MerchantTokens); err != nil {
		return nil, fmt.Errorf("receipt %s: bad merchant tokens: %w", r.ID, err)
	}
	r.UploadedAt, r.CreatedAt, r.UpdatedAt = r.UploadedAt.UTC(), r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
