package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quadmarket/quadmarket/internal/auth"
	"github.com/quadmarket/quadmarket/internal/listing"
	"github.com/quadmarket/quadmarket/internal/logging"
	"github.com/quadmarket/quadmarket/internal/validation"
)

// Handlers exposes escrow operations over HTTP.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Open handles POST /v1/escrow.
func (h *Handlers) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.BuyerName = validation.SanitizeString(req.BuyerName, 100)
	validators := []func() *validation.ValidationError{
		validation.Required("buyerName", req.BuyerName),
	}
	if req.BuyerEmail != "" {
		validators = append(validators, validation.ValidEmail("buyerEmail", req.BuyerEmail))
	}
	if req.BuyerPhone != "" {
		validators = append(validators, validation.ValidPhone("buyerPhone", req.BuyerPhone))
	}
	if errs := validation.Validate(validators...); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": errs})
		return
	}

	tx, err := h.service.Open(c.Request.Context(), auth.CurrentPrincipal(c), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// Get handles GET /v1/escrow/:id.
func (h *Handlers) Get(c *gin.Context) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// Release handles POST /v1/escrow/:id/release.
func (h *Handlers) Release(c *gin.Context) {
	tx, err := h.service.Release(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// Refund handles POST /v1/escrow/:id/refund.
func (h *Handlers) Refund(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	req.Reason = validation.SanitizeString(req.Reason, 500)

	tx, err := h.service.Refund(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c), req.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// Dispute handles POST /v1/escrow/:id/dispute.
func (h *Handlers) Dispute(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	req.Reason = validation.SanitizeString(req.Reason, 500)

	tx, err := h.service.Dispute(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c), req.Reason)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// Queue handles GET /v1/admin/escrow.
func (h *Handlers) Queue(c *gin.Context) {
	items, err := h.service.Queue(c.Request.Context(), auth.CurrentPrincipal(c), Status(c.Query("status")), 0)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if items == nil {
		items = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

// ListBySeller handles GET /v1/users/:id/escrow.
func (h *Handlers) ListBySeller(c *gin.Context) {
	items, err := h.service.ListBySeller(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c), 0)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if items == nil {
		items = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

func (h *Handlers) renderError(c *gin.Context, err error) {
	var statusErr *StatusError
	var listingStatusErr *listing.StatusError
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "escrow transaction not found"})
	case errors.Is(err, listing.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
	case errors.Is(err, ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this escrow transaction"})
	case errors.Is(err, ErrAlreadyOpen):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.As(err, &statusErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "invalid_state",
			"message":       statusErr.Error(),
			"currentStatus": statusErr.Current,
		})
	case errors.As(err, &listingStatusErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "invalid_state",
			"message":       listingStatusErr.Error(),
			"currentStatus": listingStatusErr.Current,
		})
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, listing.ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("escrow operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
