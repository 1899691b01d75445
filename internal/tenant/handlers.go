package tenant

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/commercia/creditcore/internal/validation"
)

// Handler provides admin HTTP endpoints for tenant management.
type Handler struct {
	service *Service
}

// NewHandler creates a new tenant handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up admin-only tenant routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.Create)
	r.GET("/tenants", h.List)
	r.POST("/tenants/:tenantId/suspend", h.Suspend)
	r.POST("/tenants/:tenantId/activate", h.Activate)
}

// Create handles POST /v1/admin/tenants
func (h *Handler) Create(c *gin.Context) {
	var req struct {
		ID   string `json:"id" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "id and name are required",
		})
		return
	}
	if !validation.IsValidTenantID(req.ID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "id must be lowercase alphanumeric with - or _",
		})
		return
	}

	t, err := h.service.Create(c.Request.Context(), req.ID, validation.SanitizeString(req.Name, 200))
	if err != nil {
		if errors.Is(err, ErrTenantExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_exists",
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
	c.JSON(http.StatusCreated, gin.H{"tenant": t})
}

// List handles GET /v1/admin/tenants
func (h *Handler) List(c *gin.Context) {
	tenants, err := h.service.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants, "count": len(tenants)})
}

// Suspend handles POST /v1/admin/tenants/:tenantId/suspend
func (h *Handler) Suspend(c *gin.Context) {
	h.setStatus(c, StatusSuspended)
}

// Activate handles POST /v1/admin/tenants/:tenantId/activate
func (h *Handler) Activate(c *gin.Context) {
	h.setStatus(c, StatusActive)
}

func (h *Handler) setStatus(c *gin.Context, status Status) {
	var err error
	if status == StatusSuspended {
		err = h.service.Suspend(c.Request.Context(), c.Param("tenantId"))
	} else {
		err = h.service.Activate(c.Request.Context(), c.Param("tenantId"))
	}
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
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
	c.JSON(http.StatusOK, gin.H{"status": status})
}
