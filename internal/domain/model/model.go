// Package model defines the entities the reconciliation engine works on:
// expenses imported from bank feeds or entered by hand, receipts uploaded
// with OCR metadata, and the append-only audit trail linking them.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the reconciliation status shared by expenses and receipts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusMatched   Status = "matched"
	StatusUnmatched Status = "unmatched"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusMatched, StatusUnmatched:
		return true
	}
	return false
}

// ExpenseType classifies an expense for reporting.
type ExpenseType string

const (
	ExpenseBusiness ExpenseType = "business"
	ExpensePersonal ExpenseType = "personal"
)

// Source records how an expense entered the system.
type Source string

const (
	SourceManual   Source = "manual"
	SourceBankFeed Source = "bank_feed"
	SourceOCR      Source = "ocr"
)

// Actor identifies who triggered a transition.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorUser   Actor = "user"
)

// Action is the reason code stored on every audit entry.
type Action string

const (
	ActionAutoMatch     Action = "auto_match"
	ActionManualMatch   Action = "manual_match"
	ActionUnlink        Action = "unlink"
	ActionUndo          Action = "undo"
	ActionMarkUnmatched Action = "mark_unmatched"
	ActionReactivate    Action = "reactivate"
)

// FieldConfidence holds per-field extraction confidence in [0,1].
// Bank-feed and manually entered values carry 1.0 for every field.
type FieldConfidence struct {
	Merchant float64 `json:"merchant"`
	Amount   float64 `json:"amount"`
	Date     float64 `json:"date"`
}

// FullConfidence is used for values that did not come from OCR.
func FullConfidence() FieldConfidence {
	return FieldConfidence{Merchant: 1, Amount: 1, Date: 1}
}

// Expense is a money movement on an account.
type Expense struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Date           time.Time       `json:"date"`
	Amount         decimal.Decimal `json:"amount"` // negative = debit
	Merchant       string          `json:"merchant"`
	MerchantTokens []string        `json:"merchant_tokens"`
	Category       string          `json:"category,omitempty"`
	Type           ExpenseType     `json:"type"`
	Status         Status          `json:"status"`
	ReceiptID      string          `json:"receipt_id,omitempty"`
	ExternalID     string          `json:"external_id,omitempty"`
	Source         Source          `json:"source"`
	MissCount      int             `json:"miss_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// OCRMetadata is what the extraction service returned for a receipt,
// kept verbatim for display and review.
type OCRMetadata struct {
	Text          string          `json:"text"`
	MerchantGuess string          `json:"merchant_guess,omitempty"`
	AmountGuess   string          `json:"amount_guess,omitempty"`
	DateGuess     string          `json:"date_guess,omitempty"`
	Confidence    FieldConfidence `json:"confidence"`
}

// Receipt is an uploaded receipt image plus its normalized OCR fields.
type Receipt struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	URL            string          `json:"url"`
	UploadedAt     time.Time       `json:"uploaded_at"`
	OCR            OCRMetadata     `json:"ocr"`
	Amount         decimal.Decimal `json:"amount"`
	Date           time.Time       `json:"date"`
	Merchant       string          `json:"merchant"`
	MerchantTokens []string        `json:"merchant_tokens"`
	Status         Status          `json:"status"`
	ExpenseID      string          `json:"expense_id,omitempty"`
	MissCount      int             `json:"miss_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AuditEntry is an immutable record of one status transition.
// Match related entries name both entities; single-entity transitions
// leave the other id empty.
type AuditEntry struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Timestamp      time.Time `json:"timestamp"`
	Actor          Actor     `json:"actor"`
	Action         Action    `json:"action"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	ExpenseID      string    `json:"expense_id,omitempty"`
	ReceiptID      string    `json:"receipt_id,omitempty"`
	Score          float64   `json:"score,omitempty"`
	RefEntryID     string    `json:"ref_entry_id,omitempty"`
}

// Touches reports whether the entry names the given entity id.
func (a AuditEntry) Touches(id string) bool {
	return id != "" && (a.ExpenseID == id || a.ReceiptID == id)
}

// ReviewItem is a quarantined input that could not be normalized.
type ReviewItem struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Source     Source    `json:"source"`
	ExternalID string    `json:"external_id,omitempty"`
	ReceiptURL string    `json:"receipt_url,omitempty"`
	Field      string    `json:"field"`
	Reason     string    `json:"reason"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

// MatchRun records one matching pass over an account.
type MatchRun struct {
	ID          int64      `json:"id"`
	AccountID   string     `json:"account_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      string     `json:"status"`
	Matched     int        `json:"matched"`
	Unmatched   int        `json:"unmatched"`
	Reactivated int        `json:"reactivated"`
	Discarded   int        `json:"discarded"`
	Error       string     `json:"error,omitempty"`
}

// Match run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// StatusCounts is a per-status tally for one entity kind.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
}

// Add increments the bucket for s.
func (c *StatusCounts) Add(s Status, n int) {
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusMatched:
		c.Matched += n
	case StatusUnmatched:
		c.Unmatched += n
	}
}

// Stats summarizes one account.
type Stats struct {
	AccountID string       `json:"account_id"`
	Expenses  StatusCounts `json:"expenses"`
	Receipts  StatusCounts `json:"receipts"`
}

// CalendarDate truncates t to midnight UTC of its calendar day.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
