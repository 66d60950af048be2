package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quadmarket/quadmarket/internal/principal"
)

const principalKey = "authPrincipal"

// Middleware resolves a Bearer API key into a principal and stores it
// on the request context. Requests without credentials pass through as
// anonymous; RequireAuth decides whether that is acceptable per route.
func Middleware(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.Next()
			return
		}
		p, err := manager.Authenticate(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentPrincipal(c).Anonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose principal cannot moderate.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentPrincipal(c)
		if p.Anonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !p.CanModerate() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// CurrentPrincipal returns the authenticated principal for the request,
// or the anonymous principal when none was resolved.
func CurrentPrincipal(c *gin.Context) principal.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(principal.Principal); ok {
			return p
		}
	}
	return principal.Principal{}
}

// SetPrincipal places a principal on the context. Used by tests to
// exercise handlers without running the full middleware chain.
func SetPrincipal(c *gin.Context, p principal.Principal) {
	c.Set(principalKey, p)
}

// AdminSecretEqual compares a presented bootstrap secret in constant
// time.
func AdminSecretEqual(presented, configured string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
