package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/receipt-reconciler/internal/api/dto"
	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
)

// LinksHandler serves entity lookups and the manual link operations.
type LinksHandler struct {
	*Base
}

// NewLinksHandler creates a new links handler.
func NewLinksHandler(svc *service.ReconcileService, logger *slog.Logger) *LinksHandler {
	return &LinksHandler{Base: NewBase(svc, logger)}
}

// GetExpense handles GET /api/expenses/:id
func (h *LinksHandler) GetExpense(c *gin.Context) {
	e, err := h.svc.GetExpense(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.WriteServiceError(c, "expense", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, e)
}

// GetReceipt handles GET /api/receipts/:id
func (h *LinksHandler) GetReceipt(c *gin.Context) {
	r, err := h.svc.GetReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.WriteServiceError(c, "receipt", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, r)
}

// Match handles POST /api/matches
func (h *LinksHandler) Match(c *gin.Context) {
	var req dto.ManualMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.WriteError(c, http.StatusBadRequest, dto.ValidationError("expense_id and receipt_id are required"))
		return
	}

	result, err := h.svc.ManualMatch(c.Request.Context(), req.ExpenseID, req.ReceiptID)
	if err != nil {
		h.WriteServiceError(c, "expense or receipt", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}

// Unlink handles DELETE /api/expenses/:id/match
func (h *LinksHandler) Unlink(c *gin.Context) {
	result, err := h.svc.Unlink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.WriteServiceError(c, "expense", err)
		return
	}
	h.WriteJSON(c, http.StatusOK, result)
}
