package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/receipt-reconciler/internal/api/dto"
	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

// IngestHandler accepts new expenses and receipts.
type IngestHandler struct {
	*Base
	matchOnIngest bool
}

// NewIngestHandler creates a new ingest handler. With matchOnIngest set, a
// matching pass runs for the account after each successful ingest unless the
// request passes ?match_on_ingest=false.
func NewIngestHandler(svc *service.ReconcileService, matchOnIngest bool, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{Base: NewBase(svc, logger), matchOnIngest: matchOnIngest}
}

// wantsPass resolves the match_on_ingest query flag. It writes the 400 itself
// and returns ok=false for an invalid value.
func (h *IngestHandler) wantsPass(c *gin.Context) (want, ok bool) {
	want, err := ParseBoolParam(c, "match_on_ingest", h.matchOnIngest)
	if err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("match_on_ingest must be a boolean"))
		return false, false
	}
	return want, true
}

// triggerPass runs a pass after ingest. The ingest has already committed, so
// a failed pass is reported alongside it rather than failing the request; a
// busy account surfaces as lock_contention and the client may retry the pass.
func (h *IngestHandler) triggerPass(c *gin.Context, accountID string) (*service.PassResult, *dto.APIError) {
	result, err := h.svc.TriggerPass(c.Request.Context(), accountID)
	if err != nil {
		_, body := h.serviceError(c, "account", err)
		h.logger.Warn("pass after ingest failed", "account_id", accountID, "error", err)
		return nil, &body
	}
	return result, nil
}

// CreateExpense handles POST /api/accounts/:account/expenses
func (h *IngestHandler) CreateExpense(c *gin.Context) {
	var req dto.CreateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	e, err := h.svc.CreateExpense(c.Request.Context(), c.Param("account"), service.ExpenseDraft{
		Date:     req.Date,
		Amount:   req.Amount,
		Merchant: req.Merchant,
		Category: req.Category,
		Type:     model.ExpenseType(req.Type),
	})
	if err != nil {
		h.WriteServiceError(c, "account", err)
		return
	}
	h.WriteJSON(c, http.StatusCreated, e)
}

// BankRecords handles POST /api/accounts/:account/bank-records
func (h *IngestHandler) BankRecords(c *gin.Context) {
	var req dto.BankRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}
	if len(req.Records) == 0 {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("records must not be empty"))
		return
	}
	runPass, ok := h.wantsPass(c)
	if !ok {
		return
	}

	summary, err := h.svc.IngestBankRecords(c.Request.Context(), c.Param("account"), req.Records)
	if err != nil {
		h.WriteServiceError(c, "account", err)
		return
	}
	resp := dto.BankRecordsResponse{IngestSummary: summary}
	// Duplicates still pass: a retried push may follow one whose pass failed.
	if runPass && len(summary.Created)+summary.Duplicates > 0 {
		resp.Pass, resp.PassError = h.triggerPass(c, summary.AccountID)
	}
	h.WriteJSON(c, http.StatusOK, resp)
}

// Receipt handles POST /api/accounts/:account/receipts. A receipt whose OCR
// result cannot be normalized is accepted into the review queue.
func (h *IngestHandler) Receipt(c *gin.Context) {
	var req dto.ReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	upload := service.ReceiptUpload{URL: req.URL, OCR: req.OCR}
	if req.UploadedAt != "" {
		t, err := time.Parse(time.RFC3339, req.UploadedAt)
		if err != nil {
			h.WriteError(c, http.StatusBadRequest, dto.ValidationError("uploaded_at must be RFC 3339"))
			return
		}
		upload.UploadedAt = t
	}
	runPass, ok := h.wantsPass(c)
	if !ok {
		return
	}

	result, err := h.svc.IngestReceipt(c.Request.Context(), c.Param("account"), upload)
	if err != nil {
		h.WriteServiceError(c, "account", err)
		return
	}
	resp := dto.ReceiptResponse{ReceiptResult: result}
	if result.Quarantined != nil {
		h.WriteJSON(c, http.StatusAccepted, resp)
		return
	}
	if runPass {
		resp.Pass, resp.PassError = h.triggerPass(c, result.Receipt.AccountID)
	}
	h.WriteJSON(c, http.StatusCreated, resp)
}
