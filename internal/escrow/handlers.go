package escrow

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jkimani/pesalock/internal/apperr"
)

// Handler provides HTTP endpoints for order lifecycle operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up order routes on an identity-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:id", h.GetOrder)
	r.GET("/users/:id/orders", h.ListOrders)
	r.POST("/orders/:id/claim", h.ClaimOrder)
	r.POST("/orders/:id/ready", h.MarkReady)
	r.POST("/orders/:id/complete", h.CompleteOrder)
	r.POST("/orders/:id/cancel", h.CancelOrder)
	r.POST("/orders/:id/dispute", h.DisputeOrder)
}

// RegisterAdminRoutes sets up admin-only arbitration routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/orders", h.ListByStatus)
	r.POST("/orders/:id/resolve", h.ResolveOrder)
}

// CreateOrder handles POST /v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	order, err := h.service.Create(c.Request.Context(), c.GetString("authUserID"), req)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ListOrders handles GET /v1/users/:id/orders
func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), parseLimit(c, 200))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// ListByStatus handles GET /v1/admin/orders?status=DISPUTED
func (h *Handler) ListByStatus(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusDisputed)))

	orders, err := h.service.ListByStatus(c.Request.Context(), status, parseLimit(c, 200))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// ClaimOrder handles POST /v1/orders/:id/claim
func (h *Handler) ClaimOrder(c *gin.Context) {
	order, err := h.service.Claim(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// MarkReady handles POST /v1/orders/:id/ready
func (h *Handler) MarkReady(c *gin.Context) {
	order, err := h.service.MarkReady(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CompleteOrder handles POST /v1/orders/:id/complete
func (h *Handler) CompleteOrder(c *gin.Context) {
	order, err := h.service.Complete(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CancelOrder handles POST /v1/orders/:id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	order, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// DisputeOrder handles POST /v1/orders/:id/dispute
func (h *Handler) DisputeOrder(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	order, err := h.service.Dispute(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req.Reason)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ResolveOrder handles POST /v1/admin/orders/:id/resolve
func (h *Handler) ResolveOrder(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "winner is required (buyer or settler)",
		})
		return
	}

	order, err := h.service.Resolve(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req.Winner)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

func parseLimit(c *gin.Context, max int) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > max {
				limit = max
			}
		}
	}
	return limit
}
