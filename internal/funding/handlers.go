package funding

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/gateway"
)

// Handler provides HTTP endpoints for funding operations.
type Handler struct {
	service        *Service
	callbackSecret string
}

// NewHandler creates a new funding handler. callbackSecret authenticates
// gateway callbacks; empty disables verification.
func NewHandler(service *Service, callbackSecret string) *Handler {
	return &Handler{service: service, callbackSecret: callbackSecret}
}

// RegisterRoutes sets up funding routes on an identity-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/funding/requests", h.SubmitRequest)
	r.GET("/funding/requests", h.ListRequests)
	r.GET("/funding/requests/:id", h.GetRequest)
	r.POST("/funding/push", h.InitiatePush)
}

// RegisterAdminRoutes sets up admin-only review routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/funding/requests", h.ListPending)
	r.POST("/funding/requests/:id/review", h.ReviewRequest)
}

// RegisterCallbackRoutes sets up the unauthenticated gateway callback.
// Authenticity comes from the HMAC signature, not the identity header.
func (h *Handler) RegisterCallbackRoutes(r *gin.RouterGroup) {
	r.POST("/gateway/callback", h.GatewayCallback)
}

// SubmitRequest handles POST /v1/funding/requests
func (h *Handler) SubmitRequest(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "type and amount are required",
		})
		return
	}

	r, err := h.service.Submit(c.Request.Context(), c.GetString("authUserID"), req)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": r})
}

// GetRequest handles GET /v1/funding/requests/:id
func (h *Handler) GetRequest(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}
	if r.UserID != c.GetString("authUserID") {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "request belongs to another user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": r})
}

// ListRequests handles GET /v1/funding/requests
func (h *Handler) ListRequests(c *gin.Context) {
	requests, err := h.service.ListByUser(c.Request.Context(), c.GetString("authUserID"), parseLimit(c))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// ListPending handles GET /v1/admin/funding/requests
func (h *Handler) ListPending(c *gin.Context) {
	requests, err := h.service.ListPending(c.Request.Context(), parseLimit(c))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// ReviewRequest handles POST /v1/admin/funding/requests/:id/review
func (h *Handler) ReviewRequest(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "action is required (approve or reject)",
		})
		return
	}
	if req.Action != "approve" && req.Action != "reject" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "action must be approve or reject",
		})
		return
	}

	r, err := h.service.Review(c.Request.Context(), c.Param("id"), c.GetString("authUserID"),
		req.Action == "approve", req.Note)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": r})
}

// InitiatePush handles POST /v1/funding/push
func (h *Handler) InitiatePush(c *gin.Context) {
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "msisdn and amount are required",
		})
		return
	}

	r, err := h.service.InitiatePushDeposit(c.Request.Context(), c.GetString("authUserID"), req)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"request": r})
}

// GatewayCallback handles POST /v1/gateway/callback
func (h *Handler) GatewayCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "unreadable body"})
		return
	}

	if err := gateway.VerifyCallback(body, c.GetHeader("X-Gateway-Signature"), h.callbackSecret); err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	var cb gateway.Callback
	if err := json.Unmarshal(body, &cb); err != nil || cb.RequestRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed callback"})
		return
	}

	r, err := h.service.HandleCallback(c.Request.Context(), cb)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": r})
}

func parseLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}
