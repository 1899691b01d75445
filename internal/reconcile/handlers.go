package reconcile

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler receives payment-provider webhook deliveries.
type Handler struct {
	reconciler *Reconciler
}

// NewHandler creates a new webhook handler.
func NewHandler(reconciler *Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// RegisterRoutes sets up the webhook route. Registered on the engine root,
// outside /v1: the path is part of the provider endpoint configuration.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/webhooks/payments", h.HandleWebhook)
}

// HandleWebhook handles POST /webhooks/payments. The raw body is passed
// through untouched: signature verification covers the exact bytes sent.
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "failed to read request body",
		})
		return
	}

	err = h.reconciler.HandleEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrBadSignature) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_signature",
				"message": "webhook signature verification failed",
			})
			return
		}
		// Non-2xx tells the provider to redeliver later.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
