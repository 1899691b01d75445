package checkout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/commercia/creditcore/internal/tenant"
)

// Handler provides HTTP endpoints for checkout.
type Handler struct {
	service *Service
}

// NewHandler creates a new checkout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up checkout routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/packages", h.ListPackages)
	r.POST("/tenants/:tenantId/checkout", h.Create)
	r.GET("/tenants/:tenantId/checkout/:sessionId", h.GetSession)
}

// ListPackages handles GET /v1/packages
func (h *Handler) ListPackages(c *gin.Context) {
	out := make([]Package, 0, len(Packages))
	for _, p := range Packages {
		out = append(out, p)
	}
	c.JSON(http.StatusOK, gin.H{"packages": out, "count": len(out)})
}

// createRequest is the checkout creation payload.
type createRequest struct {
	PackageID string `json:"packageId" binding:"required"`
	PromoCode string `json:"promoCode"`
}

// Create handles POST /v1/tenants/:tenantId/checkout
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "packageId is required",
		})
		return
	}

	result, err := h.service.Create(c.Request.Context(), c.Param("tenantId"), req.PackageID, req.PromoCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrPackageNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "package_not_found",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidPromo):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "invalid_promo_code",
				"message": err.Error(),
			})
		case errors.Is(err, tenant.ErrTenantSuspended):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "tenant_suspended",
				"message": err.Error(),
			})
		case errors.Is(err, ErrProviderUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "provider_unavailable",
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
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetSession handles GET /v1/tenants/:tenantId/checkout/:sessionId
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
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
	if session.TenantID != c.Param("tenantId") {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": ErrSessionNotFound.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}
