package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quadmarket/quadmarket/internal/idgen"
	"github.com/quadmarket/quadmarket/internal/logging"
	"github.com/quadmarket/quadmarket/internal/principal"
	"github.com/quadmarket/quadmarket/internal/validation"
)

// Handlers exposes registration and key management over HTTP.
type Handlers struct {
	manager     *Manager
	adminSecret string
}

func NewHandlers(manager *Manager, adminSecret string) *Handlers {
	return &Handlers{manager: manager, adminSecret: adminSecret}
}

// Register handles POST /v1/register. It creates a new user identity
// and returns the one student API key the caller will ever see.
func (h *Handlers) Register(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Name = validation.SanitizeString(req.Name, 100)
	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.ValidEmail("email", req.Email),
	); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": errs})
		return
	}

	userID := idgen.WithPrefix("usr_")
	raw, key, err := h.manager.Issue(c.Request.Context(), userID, principal.RoleStudent, req.Name)
	if err != nil {
		logging.L(c.Request.Context()).Error("issue api key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"userId": userID,
		"apiKey": raw, // shown once, never retrievable again
		"key":    key,
	})
}

// IssueAdminKey handles POST /v1/admin/keys. Bootstrap-only: the caller
// proves control of the deployment with the X-Admin-Secret header.
func (h *Handlers) IssueAdminKey(c *gin.Context) {
	if !AdminSecretEqual(c.GetHeader("X-Admin-Secret"), h.adminSecret) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid admin secret"})
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID := idgen.WithPrefix("usr_")
	raw, key, err := h.manager.Issue(c.Request.Context(), userID, principal.RoleAdmin, req.Name)
	if err != nil {
		logging.L(c.Request.Context()).Error("issue admin key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"userId": userID,
		"apiKey": raw,
		"key":    key,
	})
}
