package ledger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jkimani/pesalock/internal/apperr"
	"github.com/jkimani/pesalock/internal/pagination"
)

// Handler provides HTTP endpoints for wallets and the audit trail.
type Handler struct {
	reader Reader
}

// NewHandler creates a new ledger handler.
func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// RegisterRoutes sets up wallet routes on an identity-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/wallet", h.GetWallet)
	r.GET("/users/:id/transactions", h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only audit routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/replay", h.Replay)
}

// GetWallet handles GET /v1/users/:id/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.reader.Wallet(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// GetHistory handles GET /v1/users/:id/transactions
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 500 {
				limit = 500
			}
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid cursor"})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	entries, err := h.reader.History(c.Request.Context(), c.Param("id"), limit+1, cursor)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	entries, next, hasMore := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})

	resp := gin.H{"transactions": entries, "count": len(entries), "hasMore": hasMore}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// Replay handles GET /v1/admin/users/:id/replay
//
// It recomputes the user's available balance from the audit trail and
// reports whether the two agree.
func (h *Handler) Replay(c *gin.Context) {
	rep, err := CheckReplay(c.Request.Context(), h.reader, c.Param("id"))
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Code(err), "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"replay": rep})
}
