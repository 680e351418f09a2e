package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/receipt-reconciler/internal/api/dto"
	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

// AccountsHandler serves the per-account reconciliation endpoints.
type AccountsHandler struct {
	*Base
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(svc *service.ReconcileService, logger *slog.Logger) *AccountsHandler {
	return &AccountsHandler{Base: NewBase(svc, logger)}
}

// List handles GET /api/accounts
func (h *AccountsHandler) List(c *gin.Context) {
	accounts, err := h.svc.Accounts(c.Request.Context())
	if err != nil {
		h.WriteServiceError(c, "accounts", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, dto.AccountListResponse{Accounts: accounts, Count: len(accounts)})
}

// Candidates handles GET /api/accounts/:account/candidates
func (h *AccountsHandler) Candidates(c *gin.Context) {
	pending, err := h.svc.GetPendingCandidates(c.Request.Context(), c.Param("account"))
	if err != nil {
		h.WriteServiceError(c, "account", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, pending)
}

// Match handles POST /api/accounts/:account/match - runs one matching pass.
func (h *AccountsHandler) Match(c *gin.Context) {
	result, err := h.svc.RunMatchingPass(c.Request.Context(), c.Param("account"))
	if err != nil {
		h.WriteServiceError(c, "account", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// Undo handles POST /api/accounts/:account/undo
func (h *AccountsHandler) Undo(c *gin.Context) {
	req := dto.UndoRequest{Count: dto.DefaultUndoCount}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	undone, err := h.svc.UndoLastMatches(c.Request.Context(), c.Param("account"), req.Count)
	if err != nil {
		h.WriteServiceError(c, "account", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, gin.H{"undone": undone, "count": len(undone)})
}

// Audit handles GET /api/accounts/:account/audit
func (h *AccountsHandler) Audit(c *gin.Context) {
	limit := ParseIntParam(c, "limit", dto.DefaultListParams().Limit)

	entries, err := h.svc.ListAudit(c.Request.Context(), c.Param("account"), limit)
	if err != nil {
		h.WriteServiceError(c, "audit log", err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	h.WriteJSON(c, http.StatusOK, dto.AuditListResponse{Entries: entries, Count: len(entries)})
}

// Runs handles GET /api/accounts/:account/runs
func (h *AccountsHandler) Runs(c *gin.Context) {
	limit := ParseIntParam(c, "limit", 20)

	runs, err := h.svc.ListRuns(c.Request.Context(), c.Param("account"), limit)
	if err != nil {
		h.WriteServiceError(c, "runs", err)
		return
	}
	if runs == nil {
		runs = []model.MatchRun{}
	}
	h.WriteJSON(c, http.StatusOK, dto.MatchRunListResponse{Runs: runs, Count: len(runs)})
}

// Stats handles GET /api/accounts/:account/stats
func (h *AccountsHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context(), c.Param("account"))
	if err != nil {
		h.WriteServiceError(c, "stats", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, stats)
}

// Expenses handles GET /api/accounts/:account/expenses?status=
func (h *AccountsHandler) Expenses(c *gin.Context) {
	expenses, err := h.svc.ListExpenses(c.Request.Context(), c.Param("account"), model.Status(c.Query("status")))
	if err != nil {
		h.WriteServiceError(c, "expenses", err)
		return
	}
	if expenses == nil {
		expenses = []model.Expense{}
	}
	h.WriteJSON(c, http.StatusOK, dto.ExpenseListResponse{Expenses: expenses, Count: len(expenses)})
}

// Review handles GET /api/accounts/:account/review
func (h *AccountsHandler) Review(c *gin.Context) {
	items, err := h.svc.ListReviewItems(c.Request.Context(), c.Param("account"))
	if err != nil {
		h.WriteServiceError(c, "review items", err)
		return
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	h.WriteJSON(c, http.StatusOK, dto.ReviewListResponse{Items: items, Count: len(items)})
}
