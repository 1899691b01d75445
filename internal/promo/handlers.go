package promo

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for promo codes.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new promo handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes sets up public promo routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/promo/validate", h.Validate)
}

// RegisterAdminRoutes sets up admin-only promo routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/promo", h.Create)
	r.GET("/promo", h.List)
	r.POST("/promo/:code/deactivate", h.Deactivate)
}

// Validate handles POST /v1/promo/validate
func (h *Handler) Validate(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "code is required",
		})
		return
	}

	result, err := h.registry.Validate(c.Request.Context(), req.Code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// createRequest is the admin payload for new codes.
type createRequest struct {
	Code          string     `json:"code" binding:"required"`
	CreditsAmount int64      `json:"creditsAmount" binding:"required"`
	MaxUses       int        `json:"maxUses" binding:"required"`
	ExpiresAt     *time.Time `json:"expiresAt"`
}

// Create handles POST /v1/admin/promo
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "code, creditsAmount and maxUses are required",
		})
		return
	}

	code, err := h.registry.Create(c.Request.Context(), req.Code, req.CreditsAmount, req.MaxUses, req.ExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		case errors.Is(err, ErrCodeExists):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_exists",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"promo_code": code})
}

// List handles GET /v1/admin/promo
func (h *Handler) List(c *gin.Context) {
	codes, err := h.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"promo_codes": codes, "count": len(codes)})
}

// Deactivate handles POST /v1/admin/promo/:code/deactivate
func (h *Handler) Deactivate(c *gin.Context) {
	err := h.registry.Deactivate(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
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
	c.JSON(http.StatusOK, gin.H{"message": "promo code deactivated"})
}
