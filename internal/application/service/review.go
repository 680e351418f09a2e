package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/index"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/storage"
)

// ReviewCorrection holds user supplied values for a quarantined input.
// Empty fields keep the original value.
type ReviewCorrection struct {
	Amount   string `json:"amount"`
	Date     string `json:"date"`
	Merchant string `json:"merchant"`
}

// ResolveResult is the entity created from a resolved review item.
type ResolveResult struct {
	Expense *model.Expense `json:"expense,omitempty"`
	Receipt *model.Receipt `json:"receipt,omitempty"`
}

// ListReviewItems returns the quarantined inputs of an account.
func (s *ReconcileService) ListReviewItems(ctx context.Context, accountID string) ([]model.ReviewItem, error) {
	items, err := s.storage.ListReviewItems(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	return items, nil
}

// DismissReviewItem drops a quarantined input.
func (s *ReconcileService) DismissReviewItem(ctx context.Context, id string) error {
	item, err := s.storage.GetReviewItem(ctx, id)
	if err != nil {
		return err
	}
	if err := s.storage.DeleteReviewItem(ctx, id); err != nil {
		return fmt.Errorf("failed to dismiss review item: %w", err)
	}
	s.logger.Info("review item dismissed",
		slog.String("account_id", item.AccountID),
		slog.String("review_id", id),
	)
	return nil
}

// ResolveReviewItem applies corrections to a quarantined input and ingests
// it. The item is kept when the corrected input still fails normalization.
// Corrected OCR fields are treated as fully confident.
func (s *ReconcileService) ResolveReviewItem(ctx context.Context, id string, fix ReviewCorrection) (*ResolveResult, error) {
	item, err := s.storage.GetReviewItem(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *ResolveResult
	err = s.withAccount(ctx, item.AccountID, func(st *accountState) error {
		switch item.Source {
		case model.SourceBankFeed:
			var rec normalizer.BankRecord
			if err := json.Unmarshal([]byte(item.Payload), &rec); err != nil {
				return fmt.Errorf("failed to decode review payload: %w", err)
			}
			if fix.Amount != "" {
				rec.Amount = normalizer.FlexString(fix.Amount)
			}
			if fix.Date != "" {
				rec.Date = fix.Date
			}
			if fix.Merchant != "" {
				rec.Description = fix.Merchant
			}
			rec.AccountID = item.AccountID
			if _, err := normalizer.NormalizeBank(rec); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			e, _, err := s.createBankExpense(ctx, item.AccountID, rec)
			if errors.Is(err, storage.ErrDuplicate) {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			if err != nil {
				return err
			}
			if st.idx != nil {
				st.idx.Insert(index.ExpenseItem(*e))
			}
			result = &ResolveResult{Expense: e}

		case model.SourceOCR:
			var upload ReceiptUpload
			if err := json.Unmarshal([]byte(item.Payload), &upload); err != nil {
				return fmt.Errorf("failed to decode review payload: %w", err)
			}
			if upload.OCR.Confidence == nil {
				upload.OCR.Confidence = make(map[string]float64)
			}
			if fix.Amount != "" {
				upload.OCR.AmountGuess = normalizer.FlexString(fix.Amount)
				upload.OCR.Confidence["amount"] = 1
			}
			if fix.Date != "" {
				upload.OCR.DateGuess = fix.Date
				upload.OCR.Confidence["date"] = 1
			}
			if fix.Merchant != "" {
				upload.OCR.MerchantGuess = fix.Merchant
				upload.OCR.Confidence["merchant"] = 1
			}
			if _, err := normalizer.NormalizeOCR(upload.OCR); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			r, _, err := s.createReceipt(ctx, item.AccountID, upload)
			if err != nil {
				return err
			}
			if st.idx != nil {
				st.idx.Insert(index.ReceiptItem(*r))
			}
			result = &ResolveResult{Receipt: r}

		default:
			return fmt.Errorf("%w: review item %s has unknown source %q", ErrInvalidInput, item.ID, item.Source)
		}

		return s.storage.DeleteReviewItem(ctx, item.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("review item resolved",
		slog.String("account_id", item.AccountID),
		slog.String("review_id", item.ID),
		slog.String("source", string(item.Source)),
	)
	return result, nil
}
