package commission

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quadmarket/quadmarket/internal/auth"
	"github.com/quadmarket/quadmarket/internal/listing"
	"github.com/quadmarket/quadmarket/internal/logging"
	"github.com/quadmarket/quadmarket/internal/payment"
)

// Handlers exposes commission operations over HTTP.
type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Quote handles GET /v1/listings/:id/commission.
func (h *Handlers) Quote(c *gin.Context) {
	amount, err := h.service.Quote(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listingId": c.Param("id"),
		"amount":    amount,
		"rate":      h.service.calc.Rate(),
	})
}

// Pay handles POST /v1/listings/:id/commission.
func (h *Handlers) Pay(c *gin.Context) {
	var req struct {
		Method string `json:"method"`
	}
	// Body is optional; the simulated provider needs no method token.
	_ = c.ShouldBindJSON(&req)

	p, err := h.service.Pay(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c), req.Method)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Payment handles GET /v1/listings/:id/commission/payment.
func (h *Handlers) Payment(c *gin.Context) {
	p, err := h.service.PaymentFor(c.Request.Context(), c.Param("id"), auth.CurrentPrincipal(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) renderError(c *gin.Context, err error) {
	var statusErr *listing.StatusError
	switch {
	case errors.Is(err, listing.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "commission payment not found"})
	case errors.Is(err, listing.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this listing"})
	case errors.Is(err, ErrAlreadyPaid):
		c.JSON(http.StatusConflict, gin.H{"error": "already_paid", "message": err.Error()})
	case errors.As(err, &statusErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "invalid_state",
			"message":       statusErr.Error(),
			"currentStatus": statusErr.Current,
		})
	case errors.Is(err, payment.ErrDeclined):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment_declined"})
	case errors.Is(err, payment.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment_unavailable"})
	default:
		logging.L(c.Request.Context()).Error("commission operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
