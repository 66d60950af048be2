package listing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quadmarket/quadmarket/internal/auth"
	"github.com/quadmarket/quadmarket/internal/logging"
	"github.com/quadmarket/quadmarket/internal/validation"
)

// Handlers exposes listing operations over HTTP.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Create handles POST /v1/listings.
func (h *Handlers) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Title = validation.SanitizeString(req.Title, 200)
	if errs := validation.Validate(
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 200),
		validation.PositiveAmount("price", req.Price),
		validation.Required("categoryId", req.CategoryID),
	); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": errs})
		return
	}

	l, err := h.service.Create(c.Request.Context(), auth.CurrentPrincipal(c), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// Get handles GET /v1/listings/:id. Listings that are not active are
// visible only to their seller and to admins; everyone else gets 404 so
// the endpoint does not leak moderation state.
func (h *Handlers) Get(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	caller := auth.CurrentPrincipal(c)
	if l.Status != StatusActive && !caller.Owns(l.SellerID) && !caller.CanModerate() {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	c.JSON(http.StatusOK, l)
}

// Browse handles GET /v1/listings.
func (h *Handlers) Browse(c *gin.Context) {
	var q struct {
		Category string `form:"category"`
		Cursor   string `form:"cursor"`
		Limit    int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	items, next, more, err := h.service.BrowseActive(c.Request.Context(), q.Category, q.Cursor, q.Limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if items == nil {
		items = []*Listing{}
	}
	c.JSON(http.StatusOK, gin.H{
		"listings":   items,
		"nextCursor": next,
		"hasMore":    more,
	})
}

// Categories handles GET /v1/categories.
func (h *Handlers) Categories(c *gin.Context) {
	cats, err := h.service.Categories(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

// Archive handles POST /v1/listings/:id/archive.
func (h *Handlers) Archive(c *gin.Context) {
	l, err := h.service.Archive(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// Delete handles DELETE /v1/listings/:id.
func (h *Handlers) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Approve handles POST /v1/admin/listings/:id/approve.
func (h *Handlers) Approve(c *gin.Context) {
	l, err := h.service.Approve(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// Reject handles POST /v1/admin/listings/:id/reject.
func (h *Handlers) Reject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Reason is optional; an empty body rejects without one.
	_ = c.ShouldBindJSON(&req)
	req.Reason = validation.SanitizeString(req.Reason, 500)

	l, err := h.service.Reject(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c), req.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// ReviewQueue handles GET /v1/admin/listings/review.
func (h *Handlers) ReviewQueue(c *gin.Context) {
	items, err := h.service.ReviewQueue(c.Request.Context(), auth.CurrentPrincipal(c), 0)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if items == nil {
		items = []*Listing{}
	}
	c.JSON(http.StatusOK, gin.H{"listings": items})
}

// ListBySeller handles GET /v1/users/:id/listings.
func (h *Handlers) ListBySeller(c *gin.Context) {
	items, err := h.service.ListBySeller(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c), 0)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if items == nil {
		items = []*Listing{}
	}
	c.JSON(http.StatusOK, gin.H{"listings": items})
}

func (h *Handlers) renderError(c *gin.Context, err error) {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this listing"})
	case errors.Is(err, ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
	case errors.As(err, &statusErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "invalid_state",
			"message":       statusErr.Error(),
			"currentStatus": statusErr.Current,
		})
	case errors.Is(err, ErrEscrowHeld):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": "cannot delete while funds are held in escrow"})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrEmptyTitle), errors.Is(err, ErrUnknownCategory):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("listing operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
