package notify

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/idgen"
	"github.com/jkimani/pesalock/internal/security"
	"github.com/jkimani/pesalock/internal/validation"
)

// Handler provides HTTP endpoints for webhook subscription management.
type Handler struct {
	store SubscriptionStore
}

// NewHandler creates a new webhook subscription handler.
func NewHandler(store SubscriptionStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up subscription routes on an identity-protected
// group. The caller from the identity middleware owns the subscriptions.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateSubscription)
	r.GET("/webhooks", h.ListSubscriptions)
	r.DELETE("/webhooks/:webhookId", h.DeleteSubscription)
}

// CreateSubscriptionRequest is the POST /v1/webhooks body.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// CreateSubscription handles POST /v1/webhooks
func (h *Handler) CreateSubscription(c *gin.Context) {
	callerID := c.GetString("authUserID")

	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "url and events are required",
		})
		return
	}

	secret := idgen.Hex(32)
	if errs := validation.Check("webhook.subscribe", map[string]string{
		"url":    req.URL,
		"secret": secret,
	}); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	// Delivery URLs are fetched server-side, so reject anything that
	// points into our own network.
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "url: " + err.Error(),
		})
		return
	}

	events := make([]EventType, len(req.Events))
	for i, e := range req.Events {
		events[i] = EventType(e)
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		UserID:    callerID,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Pesalock-Signature",
		},
	})
}

// ListSubscriptions handles GET /v1/webhooks
func (h *Handler) ListSubscriptions(c *gin.Context) {
	callerID := c.GetString("authUserID")

	subs, err := h.store.ListByUser(c.Request.Context(), callerID)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// DeleteSubscription handles DELETE /v1/webhooks/:webhookId
func (h *Handler) DeleteSubscription(c *gin.Context) {
	callerID := c.GetString("authUserID")
	id := c.Param("webhookId")

	sub, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}
	if sub.UserID != callerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "subscription belongs to another user",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
