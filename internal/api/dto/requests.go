package dto

import "github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"

// ManualMatchRequest links an expense and a receipt.
type ManualMatchRequest struct {
	ExpenseID string `json:"expense_id" binding:"required"`
	ReceiptID string `json:"receipt_id" binding:"required"`
}

// UndoRequest reverses the most recent automatic matches.
type UndoRequest struct {
	Count int `json:"count"`
}

// CreateExpenseRequest is a manually entered expense.
type CreateExpenseRequest struct {
	Date     string `json:"date" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Merchant string `json:"merchant"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

// BankRecordsRequest is a batch of raw bank-feed records.
type BankRecordsRequest struct {
	Records []normalizer.BankRecord `json:"records"`
}

// ReceiptRequest is an uploaded receipt with its OCR result.
type ReceiptRequest struct {
	URL        string               `json:"url" binding:"required"`
	UploadedAt string               `json:"uploaded_at"`
	OCR        normalizer.OCRResult `json:"ocr"`
}

// ResolveReviewRequest carries corrections for a quarantined input.
type ResolveReviewRequest struct {
	Amount   string `json:"amount"`
	Date     string `json:"date"`
	Merchant string `json:"merchant"`
}

// ListParams are the shared list query parameters.
type ListParams struct {
	Limit int `json:"limit"`
}

// DefaultUndoCount is used when an undo request names no count.
const DefaultUndoCount = 1

// DefaultListParams returns default values for list params.
func DefaultListParams() ListParams {
	return ListParams{
		Limit: 50,
	}
}
