package user

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jkimani/pesalock/internal/apperr"
)

// Handler provides HTTP endpoints for user management.
type Handler struct {
	service *Service
}

// NewHandler creates a new user handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up user routes on an identity-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id", h.GetUser)
}

// RegisterAdminRoutes sets up admin-only user routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.CreateUser)
	r.GET("/users", h.ListUsers)
	r.PUT("/users/:id/status", h.SetStatus)
}

// CreateRequest is the POST /v1/admin/users body.
type CreateRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone"`
	Role  Role   `json:"role" binding:"required"`
}

// CreateUser handles POST /v1/admin/users
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name and role are required",
		})
		return
	}

	u, w, err := h.service.CreateUserWithWallet(c.Request.Context(), req.Name, req.Phone, req.Role)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": u, "wallet": w})
}

// GetUser handles GET /v1/users/:id
func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": u})
}

// ListUsers handles GET /v1/admin/users
func (h *Handler) ListUsers(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	users, err := h.service.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// StatusRequest is the PUT /v1/admin/users/:id/status body.
type StatusRequest struct {
	Status Status `json:"status" binding:"required"`
}

// SetStatus handles PUT /v1/admin/users/:id/status
func (h *Handler) SetStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "status is required",
		})
		return
	}

	u, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": u})
}
