package dto

import (
	"time"

	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// AuditListResponse is returned when listing audit entries.
type AuditListResponse struct {
	Entries []model.AuditEntry `json:"entries"`
	Count   int                `json:"count"`
}

// MatchRunListResponse is returned when listing match runs.
type MatchRunListResponse struct {
	Runs  []model.MatchRun `json:"runs"`
	Count int              `json:"count"`
}

// ReviewListResponse is returned when listing quarantined inputs.
type ReviewListResponse struct {
	Items []model.ReviewItem `json:"items"`
	Count int                `json:"count"`
}

// ExpenseListResponse is returned when listing expenses.
type ExpenseListResponse struct {
	Expenses []model.Expense `json:"expenses"`
	Count    int             `json:"count"`
}

// AccountListResponse is returned when listing accounts.
type AccountListResponse struct {
	Accounts []string `json:"accounts"`
	Count    int      `json:"count"`
}

// NewHealthResponse creates a health response with current timestamp.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// BankRecordsResponse is returned by a bank-record push. Pass is set when a
// matching pass ran afterwards; PassError when it was attempted and failed.
type BankRecordsResponse struct {
	*service.IngestSummary
	Pass      *service.PassResult `json:"pass,omitempty"`
	PassError *APIError           `json:"pass_error,omitempty"`
}

// ReceiptResponse is returned by a receipt upload.
type ReceiptResponse struct {
	*service.ReceiptResult
	Pass      *service.PassResult `json:"pass,omitempty"`
	PassError *APIError           `json:"pass_error,omitempty"`
}
