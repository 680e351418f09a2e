package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/receipt-reconciler/internal/api/dto"
	"github.com/eshaffer321/receipt-reconciler/internal/api/handlers"
	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newService(t *testing.T) (*service.ReconcileService, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return service.NewReconcileService(repo, service.DefaultConfig(), logger), repo
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.APIError {
	t.Helper()
	var apiErr dto.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
	return apiErr
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("expense x: %w", reconcile.ErrNotFound), http.StatusNotFound, dto.ErrCodeNotFound},
		{"invalid input", fmt.Errorf("%w: count", service.ErrInvalidInput), http.StatusBadRequest, dto.ErrCodeValidation},
		{"account mismatch", reconcile.ErrAccountMismatch, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"lock contention", fmt.Errorf("%w: acct", reconcile.ErrLockContention), http.StatusConflict, dto.ErrCodeLockContention},
		{"stale entity", &reconcile.ReferentialIntegrityError{Kind: "receipt", EntityID: "r1", Expected: "pending"}, http.StatusConflict, dto.ErrCodeConflict},
		{"transaction failure", &reconcile.TransactionError{AccountID: "a", Err: errors.New("disk")}, http.StatusInternalServerError, dto.ErrCodeTransactionFailure},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := handlers.NewBase(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
			router := gin.New()
			router.GET("/x", func(c *gin.Context) { base.WriteServiceError(c, "expense", tt.err) })

			rec := doJSON(t, router, http.MethodGet, "/x", nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestAccountsHandler_Undo(t *testing.T) {
	t.Run("defaults to one and accepts an empty body", func(t *testing.T) {
		svc, _ := newService(t)
		h := handlers.NewAccountsHandler(svc, nil)
		router := gin.New()
		router.POST("/accounts/:account/undo", h.Undo)

		req := httptest.NewRequest(http.MethodPost, "/accounts/acct-1/undo", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 0, body.Count)
	})

	t.Run("rejects non-positive count", func(t *testing.T) {
		svc, _ := newService(t)
		h := handlers.NewAccountsHandler(svc, nil)
		router := gin.New()
		router.POST("/accounts/:account/undo", h.Undo)

		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/undo", dto.UndoRequest{Count: -2})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.ErrCodeValidation, decodeError(t, rec).Code)
	})
}

func TestAccountsHandler_Audit(t *testing.T) {
	t.Run("returns empty list when nothing happened", func(t *testing.T) {
		svc, _ := newService(t)
		h := handlers.NewAccountsHandler(svc, nil)
		router := gin.New()
		router.GET("/accounts/:account/audit", h.Audit)

		rec := doJSON(t, router, http.MethodGet, "/accounts/acct-1/audit", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var response dto.AuditListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		assert.NotNil(t, response.Entries)
		assert.Equal(t, 0, response.Count)
	})

	t.Run("surfaces storage errors", func(t *testing.T) {
		svc, repo := newService(t)
		repo.ListAuditErr = errors.New("database is locked")
		h := handlers.NewAccountsHandler(svc, nil)
		router := gin.New()
		router.GET("/accounts/:account/audit", h.Audit)

		rec := doJSON(t, router, http.MethodGet, "/accounts/acct-1/audit", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestIngestHandler_Receipt(t *testing.T) {
	svc, _ := newService(t)
	h := handlers.NewIngestHandler(svc, false, nil)
	router := gin.New()
	router.POST("/accounts/:account/receipts", h.Receipt)

	t.Run("creates receipt", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/receipts", dto.ReceiptRequest{
			URL: "https://receipts.example.com/1.jpg",
			OCR: normalizer.OCRResult{MerchantGuess: "Cafe", AmountGuess: "4.50", DateGuess: "2024-03-10"},
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		var result service.ReceiptResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		require.NotNil(t, result.Receipt)
		assert.Equal(t, "4.50", result.Receipt.Amount.StringFixed(2))
	})

	t.Run("accepts unreadable OCR into review", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/receipts", dto.ReceiptRequest{
			URL: "https://receipts.example.com/2.jpg",
			OCR: normalizer.OCRResult{MerchantGuess: "Cafe"},
		})

		assert.Equal(t, http.StatusAccepted, rec.Code)
		var result service.ReceiptResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		require.NotNil(t, result.Quarantined)
		assert.Equal(t, "amount", result.Quarantined.Field)
	})

	t.Run("requires url", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/receipts", map[string]any{"ocr": map[string]any{}})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects bad upload time", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/receipts", dto.ReceiptRequest{
			URL: "https://receipts.example.com/3.jpg", UploadedAt: "yesterday",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIngestHandler_BankRecords(t *testing.T) {
	svc, repo := newService(t)
	h := handlers.NewIngestHandler(svc, false, nil)
	router := gin.New()
	router.POST("/accounts/:account/bank-records", h.BankRecords)

	t.Run("accepts numeric and string amounts", func(t *testing.T) {
		body := `{"records":[
			{"amount":-12.5,"date":"2024-03-10","description":"Cafe","external_id":"t1"},
			{"amount":"-3.00","date":"2024-03-10","description":"Bus","external_id":"t2"}
		]}`
		req := httptest.NewRequest(http.MethodPost, "/accounts/acct-1/bank-records", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var summary service.IngestSummary
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
		assert.Len(t, summary.Created, 2)

		e, err := repo.FindExpenseByExternalID(context.Background(), "acct-1", "t1")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "-12.50", e.Amount.StringFixed(2))
	})

	t.Run("rejects empty batch", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/bank-records", dto.BankRecordsRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIngestHandler_MatchOnIngest(t *testing.T) {
	svc, repo := newService(t)
	h := handlers.NewIngestHandler(svc, true, nil)
	router := gin.New()
	router.POST("/accounts/:account/bank-records", h.BankRecords)
	router.POST("/accounts/:account/receipts", h.Receipt)

	records := dto.BankRecordsRequest{Records: []normalizer.BankRecord{
		{Amount: "-4.50", Date: "2024-03-10", Description: "CAFE", ExternalID: "t1"},
	}}

	t.Run("runs a pass after bank records", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/bank-records", records)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp dto.BankRecordsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.NotNil(t, resp.Pass)
		assert.Nil(t, resp.PassError)
		assert.Equal(t, "acct-1", resp.Pass.AccountID)
		assert.Empty(t, resp.Pass.Matches)
	})

	t.Run("query flag disables the pass", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/receipts?match_on_ingest=false", dto.ReceiptRequest{
			URL: "https://receipts.example.com/1.jpg",
			OCR: normalizer.OCRResult{MerchantGuess: "Cafe", AmountGuess: "9.99", DateGuess: "2024-03-10"},
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp dto.ReceiptResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Nil(t, resp.Pass)
	})

	t.Run("rejects invalid flag", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/bank-records?match_on_ingest=maybe", records)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("failed pass is reported with the committed ingest", func(t *testing.T) {
		repo.ListExpensesErr = errors.New("disk full")
		defer func() { repo.ListExpensesErr = nil }()

		rec := doJSON(t, router, http.MethodPost, "/accounts/acct-1/receipts", dto.ReceiptRequest{
			URL: "https://receipts.example.com/2.jpg",
			OCR: normalizer.OCRResult{MerchantGuess: "Cafe", AmountGuess: "1.25", DateGuess: "2024-03-10"},
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp dto.ReceiptResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.NotNil(t, resp.Receipt)
		assert.Nil(t, resp.Pass)
		require.NotNil(t, resp.PassError)
		assert.Equal(t, dto.ErrCodeTransactionFailure, resp.PassError.Code)
	})
}

func TestLinksHandler_NotFound(t *testing.T) {
	svc, _ := newService(t)
	h := handlers.NewLinksHandler(svc, nil)
	router := gin.New()
	router.GET("/expenses/:id", h.GetExpense)
	router.GET("/receipts/:id", h.GetReceipt)
	router.POST("/matches", h.Match)

	for _, path := range []string{"/expenses/nope", "/receipts/nope"} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := doJSON(t, router, http.MethodPost, "/matches", dto.ManualMatchRequest{ExpenseID: "nope", ReceiptID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/matches", map[string]string{"expense_id": "e1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewHandler_Dismiss(t *testing.T) {
	svc, _ := newService(t)
	summary, err := svc.IngestBankRecords(context.Background(), "acct-1", []normalizer.BankRecord{
		{Amount: "??", Date: "2024-03-10", ExternalID: "bad"},
	})
	require.NoError(t, err)
	require.Len(t, summary.Quarantined, 1)

	h := handlers.NewReviewHandler(svc, nil)
	router := gin.New()
	router.DELETE("/review/:id", h.Dismiss)

	rec := doJSON(t, router, http.MethodDelete, "/review/"+summary.Quarantined[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/review/"+summary.Quarantined[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
