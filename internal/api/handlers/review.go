package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/receipt-reconciler/internal/api/dto"
	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
)

// ReviewHandler resolves quarantined inputs.
type ReviewHandler struct {
	*Base
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(svc *service.ReconcileService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{Base: NewBase(svc, logger)}
}

// Resolve handles POST /api/review/:id/resolve
func (h *ReviewHandler) Resolve(c *gin.Context) {
	var req dto.ResolveReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.WriteError(c, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	result, err := h.svc.ResolveReviewItem(c.Request.Context(), c.Param("id"), service.ReviewCorrection{
		Amount:   req.Amount,
		Date:     req.Date,
		Merchant: req.Merchant,
	})
	if err != nil {
		h.WriteServiceError(c, "review item", err)
		return
	}
	h.WriteJSON(c, http.StatusCreated, result)
}

// Dismiss handles DELETE /api/review/:id
func (h *ReviewHandler) Dismiss(c *gin.Context) {
	if err := h.svc.DismissReviewItem(c.Request.Context(), c.Param("id")); err != nil {
		h.WriteServiceError(c, "review item", err)
		return
	}
	c.Status(http.StatusNoContent)
}
