package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/receipt-reconciler/internal/api/dto"
	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
)

// Base provides shared functionality for all handlers.
type Base struct {
	svc    *service.ReconcileService
	logger *slog.Logger
}

// NewBase creates a new base handler with the given service.
func NewBase(svc *service.ReconcileService, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{svc: svc, logger: logger}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// WriteError writes an error response with the given status code.
func (b *Base) WriteError(c *gin.Context, status int, err dto.APIError) {
	c.AbortWithStatusJSON(status, err)
}

// WriteServiceError maps a service error onto a status code and error body.
func (b *Base) WriteServiceError(c *gin.Context, resource string, err error) {
	status, body := b.serviceError(c, resource, err)
	b.WriteError(c, status, body)
}

func (b *Base) serviceError(c *gin.Context, resource string, err error) (int, dto.APIError) {
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		return http.StatusNotFound, dto.NotFoundError(resource)
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, normalizer.ErrMalformedInput):
		return http.StatusBadRequest, dto.ValidationError(err.Error())
	case errors.Is(err, reconcile.ErrAccountMismatch):
		return http.StatusBadRequest, dto.BadRequestError(err.Error())
	case errors.Is(err, reconcile.ErrLockContention):
		return http.StatusConflict, dto.LockContentionError(err.Error())
	case errors.Is(err, reconcile.ErrReferentialIntegrity),
		errors.Is(err, reconcile.ErrInvalidTransition):
		return http.StatusConflict, dto.ConflictError(err.Error())
	case errors.Is(err, reconcile.ErrTransactionFailure):
		b.logger.Error("transaction failure", "path", c.FullPath(), "error", err)
		return http.StatusInternalServerError, dto.TransactionFailureError()
	default:
		b.logger.Error("request failed", "path", c.FullPath(), "error", err)
		return http.StatusInternalServerError, dto.InternalError()
	}
}

// ParseBoolParam parses a boolean query parameter with a default value.
// An unparseable value is reported so the caller can reject the request.
func ParseBoolParam(c *gin.Context, name string, defaultVal bool) (bool, error) {
	val := c.Query(name)
	if val == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(val)
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(c *gin.Context, name string, defaultVal int) int {
	val := c.Query(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}
