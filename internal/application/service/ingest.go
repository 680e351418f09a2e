package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/index"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/storage"
)

// IngestSummary reports what happened to a batch of bank records.
type IngestSummary struct {
	AccountID   string             `json:"account_id"`
	Created     []model.Expense    `json:"created"`
	Duplicates  int                `json:"duplicates"`
	Quarantined []model.ReviewItem `json:"quarantined"`
}

// ReceiptUpload is an uploaded receipt with its OCR result.
type ReceiptUpload struct {
	URL        string               `json:"url"`
	UploadedAt time.Time            `json:"uploaded_at"`
	OCR        normalizer.OCRResult `json:"ocr"`
}

// ReceiptResult is either the created receipt or the review item it was
// quarantined as.
type ReceiptResult struct {
	Receipt     *model.Receipt    `json:"receipt,omitempty"`
	Quarantined *model.ReviewItem `json:"quarantined,omitempty"`
}

// ExpenseDraft is a manually entered expense.
type ExpenseDraft struct {
	Date     string            `json:"date"`
	Amount   string            `json:"amount"`
	Merchant string            `json:"merchant"`
	Category string            `json:"category"`
	Type     model.ExpenseType `json:"type"`
}

// IngestBankRecords normalizes a batch from the bank feed. Records already
// seen for the account are skipped; records that cannot be normalized are
// quarantined for review instead of failing the batch.
func (s *ReconcileService) IngestBankRecords(ctx context.Context, accountID string, records []normalizer.BankRecord) (*IngestSummary, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	summary := &IngestSummary{AccountID: accountID}

	err := s.withAccount(ctx, accountID, func(st *accountState) error {
		seen := make(map[string]bool)
		for _, rec := range records {
			if rec.AccountID != "" && rec.AccountID != accountID {
				item, err := s.quarantine(ctx, accountID, model.SourceBankFeed, rec.ExternalID, "", "account_id",
					fmt.Sprintf("record belongs to account %s", rec.AccountID), rec)
				if err != nil {
					return err
				}
				summary.Quarantined = append(summary.Quarantined, *item)
				continue
			}

			if rec.ExternalID != "" {
				if seen[rec.ExternalID] {
					summary.Duplicates++
					continue
				}
				seen[rec.ExternalID] = true

				existing, err := s.storage.FindExpenseByExternalID(ctx, accountID, rec.ExternalID)
				if err != nil {
					return fmt.Errorf("failed to check external id: %w", err)
				}
				if existing != nil {
					summary.Duplicates++
					continue
				}
			}

			e, item, err := s.createBankExpense(ctx, accountID, rec)
			switch {
			case errors.Is(err, storage.ErrDuplicate):
				summary.Duplicates++
				continue
			case err != nil:
				return err
			case item != nil:
				summary.Quarantined = append(summary.Quarantined, *item)
				continue
			}
			if st.idx != nil {
				st.idx.Insert(index.ExpenseItem(*e))
			}
			summary.Created = append(summary.Created, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bank records ingested",
		slog.String("account_id", accountID),
		slog.Int("records", len(records)),
		slog.Int("created", len(summary.Created)),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("quarantined", len(summary.Quarantined)),
	)
	return summary, nil
}

// createBankExpense returns the created expense, or the review item when the
// record is malformed.
func (s *ReconcileService) createBankExpense(ctx context.Context, accountID string, rec normalizer.BankRecord) (*model.Expense, *model.ReviewItem, error) {
	cand, err := normalizer.NormalizeBank(rec)
	if err != nil {
		var bad *normalizer.MalformedInputError
		if !errors.As(err, &bad) {
			return nil, nil, err
		}
		item, qerr := s.quarantine(ctx, accountID, model.SourceBankFeed, rec.ExternalID, "", bad.Field, bad.Error(), rec)
		return nil, item, qerr
	}

	now := s.now()
	e := &model.Expense{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Date:           cand.Date,
		Amount:         cand.Amount,
		Merchant:       cand.Merchant,
		MerchantTokens: cand.MerchantTokens,
		Type:           model.ExpenseBusiness,
		Status:         model.StatusPending,
		ExternalID:     rec.ExternalID,
		Source:         model.SourceBankFeed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.storage.CreateExpense(ctx, e); err != nil {
		return nil, nil, err
	}
	return e, nil, nil
}

// IngestReceipt normalizes an uploaded receipt and adds it to the pool.
func (s *ReconcileService) IngestReceipt(ctx context.Context, accountID string, upload ReceiptUpload) (*ReceiptResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(upload.URL) == "" {
		return nil, fmt.Errorf("%w: receipt url is required", ErrInvalidInput)
	}

	var result *ReceiptResult
	err := s.withAccount(ctx, accountID, func(st *accountState) error {
		r, item, err := s.createReceipt(ctx, accountID, upload)
		if err != nil {
			return err
		}
		if item != nil {
			result = &ReceiptResult{Quarantined: item}
			return nil
		}
		if st.idx != nil {
			st.idx.Insert(index.ReceiptItem(*r))
		}
		result = &ReceiptResult{Receipt: r}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Receipt != nil {
		s.logger.Info("receipt ingested",
			slog.String("account_id", accountID),
			slog.String("receipt_id", result.Receipt.ID),
			slog.String("merchant", result.Receipt.Merchant),
			slog.String("amount", result.Receipt.Amount.StringFixed(2)),
		)
	}
	return result, nil
}

func (s *ReconcileService) createReceipt(ctx context.Context, accountID string, upload ReceiptUpload) (*model.Receipt, *model.ReviewItem, error) {
	cand, err := normalizer.NormalizeOCR(upload.OCR)
	if err != nil {
		var bad *normalizer.MalformedInputError
		if !errors.As(err, &bad) {
			return nil, nil, err
		}
		item, qerr := s.quarantine(ctx, accountID, model.SourceOCR, "", upload.URL, bad.Field, bad.Error(), upload)
		return nil, item, qerr
	}

	now := s.now()
	uploaded := upload.UploadedAt
	if uploaded.IsZero() {
		uploaded = now
	}
	r := &model.Receipt{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		URL:            upload.URL,
		UploadedAt:     uploaded.UTC(),
		OCR:            upload.OCR.Metadata(),
		Amount:         cand.Amount,
		Date:           cand.Date,
		Merchant:       cand.Merchant,
		MerchantTokens: cand.MerchantTokens,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.storage.CreateReceipt(ctx, r); err != nil {
		return nil, nil, fmt.Errorf("failed to create receipt: %w", err)
	}
	return r, nil, nil
}

// CreateExpense records a manually entered expense. Unlike feed input a bad
// draft is rejected outright so the user can fix it.
func (s *ReconcileService) CreateExpense(ctx context.Context, accountID string, draft ExpenseDraft) (*model.Expense, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	amount, err := normalizer.ParseAmount(draft.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrInvalidInput, err)
	}
	date, err := normalizer.ParseDate(draft.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: date: %v", ErrInvalidInput, err)
	}
	typ := draft.Type
	switch typ {
	case "":
		typ = model.ExpenseBusiness
	case model.ExpenseBusiness, model.ExpensePersonal:
	default:
		return nil, fmt.Errorf("%w: unknown expense type %q", ErrInvalidInput, typ)
	}

	merchant := strings.TrimSpace(draft.Merchant)
	now := s.now()
	e := &model.Expense{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Date:           date,
		Amount:         amount,
		Merchant:       merchant,
		MerchantTokens: normalizer.MerchantTokens(merchant),
		Category:       strings.TrimSpace(draft.Category),
		Type:           typ,
		Status:         model.StatusPending,
		Source:         model.SourceManual,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.withAccount(ctx, accountID, func(st *accountState) error {
		if err := s.storage.CreateExpense(ctx, e); err != nil {
			return fmt.Errorf("failed to create expense: %w", err)
		}
		if st.idx != nil {
			st.idx.Insert(index.ExpenseItem(*e))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("expense created",
		slog.String("account_id", accountID),
		slog.String("expense_id", e.ID),
		slog.String("amount", e.Amount.StringFixed(2)),
	)
	return e, nil
}

// quarantine stores an input that failed normalization.
func (s *ReconcileService) quarantine(ctx context.Context, accountID string, source model.Source, externalID, url, field, reason string, payload any) (*model.ReviewItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode review payload: %w", err)
	}
	item := &model.ReviewItem{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Source:     source,
		ExternalID: externalID,
		ReceiptURL: url,
		Field:      field,
		Reason:     reason,
		Payload:    string(raw),
		CreatedAt:  s.now(),
	}
	if err := s.storage.CreateReviewItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to quarantine input: %w", err)
	}
	s.logger.Warn("input quarantined for review",
		slog.String("account_id", accountID),
		slog.String("source", string(source)),
		slog.String("field", field),
		slog.String("reason", reason),
	)
	return item, nil
}
