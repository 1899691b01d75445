package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/commercia/creditcore/internal/pagination"
)

// Handler provides HTTP endpoints for balance and history reads plus
// admin-only ledger operations.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up tenant-facing read-only routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:tenantId/balance", h.GetBalance)
	r.GET("/tenants/:tenantId/transactions", h.ListTransactions)
}

// RegisterAdminRoutes sets up admin-only ledger routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:tenantId/adjustment", h.ApplyAdjustment)
	r.POST("/tenants/:tenantId/audit", h.AuditTenant)
	r.POST("/tenants/:tenantId/unfreeze", h.Unfreeze)
	r.POST("/audit", h.AuditAll)
}

// GetBalance handles GET /v1/tenants/:tenantId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	acct, err := h.ledger.Balance(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// ListTransactions handles GET /v1/tenants/:tenantId/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	q := HistoryQuery{
		TenantID: c.Param("tenantId"),
		Type:     Type(c.Query("type")),
	}

	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "from must be an RFC 3339 timestamp",
			})
			return
		}
		q.DateFrom = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "to must be an RFC 3339 timestamp",
			})
			return
		}
		q.DateTo = t
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid cursor",
		})
		return
	}
	q.Cursor = cursor

	txns, next, hasMore, err := h.ledger.History(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	resp := gin.H{
		"transactions": txns,
		"count":        len(txns),
		"has_more":     hasMore,
	}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// adjustmentRequest is the admin payload for manual balance corrections.
type adjustmentRequest struct {
	Amount         int64  `json:"amount" binding:"required"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ApplyAdjustment handles POST /v1/admin/tenants/:tenantId/adjustment
func (h *Handler) ApplyAdjustment(c *gin.Context) {
	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Amount is required and must be non-zero",
		})
		return
	}

	result, err := h.ledger.Apply(c.Request.Context(), ApplyInput{
		TenantID:       c.Param("tenantId"),
		Amount:         req.Amount,
		Type:           TypeAdjustment,
		ActionType:     "manual_adjustment",
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
	})
	if err != nil {
		writeApplyError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// AuditTenant handles POST /v1/admin/tenants/:tenantId/audit
func (h *Handler) AuditTenant(c *gin.Context) {
	report, err := h.ledger.AuditTenant(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// AuditAll handles POST /v1/admin/audit
func (h *Handler) AuditAll(c *gin.Context) {
	reports, err := h.ledger.AuditAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	inconsistent := 0
	for _, r := range reports {
		if !r.Consistent {
			inconsistent++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"reports":      reports,
		"count":        len(reports),
		"inconsistent": inconsistent,
	})
}

// Unfreeze handles POST /v1/admin/tenants/:tenantId/unfreeze
func (h *Handler) Unfreeze(c *gin.Context) {
	if err := h.ledger.Unfreeze(c.Request.Context(), c.Param("tenantId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "tenant writes re-enabled"})
}

// writeApplyError maps ledger errors onto HTTP responses. Shared with the
// checkout and reconcile handlers.
func writeApplyError(c *gin.Context, err error) {
	var insufficient *InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "insufficient_credits",
			"message":   err.Error(),
			"balance":   insufficient.Balance,
			"requested": insufficient.Requested,
			"shortfall": insufficient.Shortfall(),
		})
	case errors.Is(err, ErrTenantFrozen):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "tenant_frozen",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
