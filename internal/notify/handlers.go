package notify

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quadmarket/quadmarket/internal/auth"
	"github.com/quadmarket/quadmarket/internal/idgen"
	"github.com/quadmarket/quadmarket/internal/logging"
)

// Handlers exposes webhook subscription management over HTTP.
type Handlers struct {
	store SubscriptionStore
}

func NewHandlers(store SubscriptionStore) *Handlers {
	return &Handlers{store: store}
}

// Create handles POST /v1/webhooks. The signing secret is returned
// exactly once.
func (h *Handlers) Create(c *gin.Context) {
	var req struct {
		URL    string   `json:"url" binding:"required"`
		Events []string `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be a valid http(s) URL"})
		return
	}
	for _, ev := range req.Events {
		if !knownEventType(ev) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type: " + ev})
			return
		}
	}

	secret, err := generateSecret()
	if err != nil {
		logging.L(c.Request.Context()).Error("generate webhook secret", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		UserID:    auth.CurrentPrincipal(c).UserID,
		URL:       req.URL,
		Secret:    secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		logging.L(c.Request.Context()).Error("create webhook subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret,
	})
}

// List handles GET /v1/webhooks.
func (h *Handlers) List(c *gin.Context) {
	subs, err := h.store.ListByUser(c.Request.Context(), auth.CurrentPrincipal(c).UserID)
	if err != nil {
		logging.L(c.Request.Context()).Error("list webhook subscriptions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// Delete handles DELETE /v1/webhooks/:id. Owner or admin.
func (h *Handlers) Delete(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook subscription not found"})
			return
		}
		logging.L(c.Request.Context()).Error("get webhook subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	caller := auth.CurrentPrincipal(c)
	if !caller.Owns(sub.UserID) && !caller.CanModerate() {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this subscription"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), sub.ID); err != nil {
		logging.L(c.Request.Context()).Error("delete webhook subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func knownEventType(ev string) bool {
	switch ev {
	case EventListingCreated, EventListingApproved, EventListingRejected,
		EventListingArchived, EventListingDeleted, EventCommissionPaid,
		EventEscrowOpened, EventEscrowReleased, EventEscrowRefunded,
		EventEscrowDisputed:
		return true
	}
	return false
}

func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
