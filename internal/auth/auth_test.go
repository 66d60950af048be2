package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadmarket/quadmarket/internal/principal"
)

func TestIssueAndAuthenticate(t *testing.T) {
	m := NewManager(NewMemoryStore())

	raw, key, err := m.Issue(context.Background(), "usr_1", principal.RoleStudent, "test key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "sk_"))
	assert.True(t, strings.HasPrefix(key.ID, "key_"))
	assert.Equal(t, HashKey(raw), key.Hash)

	p, err := m.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", p.UserID)
	assert.Equal(t, principal.RoleStudent, p.Role)
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	m := NewManager(NewMemoryStore())

	_, err := m.Authenticate(context.Background(), "sk_deadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = m.Authenticate(context.Background(), "not-a-key")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMiddlewareResolvesPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(NewMemoryStore())
	raw, _, err := m.Issue(context.Background(), "usr_7", principal.RoleAdmin, "admin")
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/whoami", func(c *gin.Context) {
		p := CurrentPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"userId": p.UserID, "role": p.Role})
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "usr_7")
	assert.Contains(t, w.Body.String(), "admin")
}

func TestMiddlewareRejectsBadKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewManager(NewMemoryStore())))
	r.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer sk_0000000000000000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuthAndAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", RequireAuth(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminSecretEqual(t *testing.T) {
	assert.True(t, AdminSecretEqual("s3cret", "s3cret"))
	assert.False(t, AdminSecretEqual("wrong", "s3cret"))
	assert.False(t, AdminSecretEqual("", ""))
}
