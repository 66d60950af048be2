package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadmarket/quadmarket/internal/config"
	"github.com/quadmarket/quadmarket/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:            "0",
		Env:             "development",
		LogLevel:        "error",
		CommissionRate:  "0.10",
		PaymentProvider: config.ProviderSimulated,
		PaymentTimeout:  5 * time.Second,
		AdminSecret:     "test-admin-secret",
		RateLimitRPM:    100000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(context.Background(), testConfig(), logging.New("error", "text"))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func registerStudent(t *testing.T, s *Server, name string) string {
	t.Helper()
	w := do(t, s, http.MethodPost, "/v1/register", "", map[string]any{
		"name":  name,
		"email": name + "@campus.edu",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["apiKey"].(string)
}

func issueAdminKey(t *testing.T, s *Server) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/keys", bytes.NewBufferString(`{"name":"ops"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", "test-admin-secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["apiKey"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		w := do(t, s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodPost, "/v1/listings", "", map[string]any{
		"title": "Lamp", "price": "10.00", "categoryId": "other",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminKeyRequiresSecret(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/keys", bytes.NewBufferString(`{"name":"ops"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", "wrong")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListingWorkflow(t *testing.T) {
	s := newTestServer(t)
	sellerKey := registerStudent(t, s, "seller")
	adminKey := issueAdminKey(t, s)

	// Create: the listing starts gated behind the commission.
	w := do(t, s, http.MethodPost, "/v1/listings", sellerKey, map[string]any{
		"title": "Mini fridge", "price": "100.00", "categoryId": "electronics",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	listingID := created["id"].(string)
	assert.Equal(t, "pending_commission", created["status"])

	// Invisible to the public while not active.
	w = do(t, s, http.MethodGet, "/v1/listings/"+listingID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Quote then pay the commission.
	w = do(t, s, http.MethodGet, "/v1/listings/"+listingID+"/commission", sellerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10.00", decode(t, w)["amount"])

	w = do(t, s, http.MethodPost, "/v1/listings/"+listingID+"/commission", sellerKey, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "10.00", decode(t, w)["amount"])

	// Exactly once.
	w = do(t, s, http.MethodPost, "/v1/listings/"+listingID+"/commission", sellerKey, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_paid", decode(t, w)["error"])

	// Moderation queue sees it; approval activates it.
	w = do(t, s, http.MethodGet, "/v1/admin/listings/review", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), listingID)

	w = do(t, s, http.MethodPost, "/v1/admin/listings/"+listingID+"/approve", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", decode(t, w)["status"])

	// Now publicly browsable.
	w = do(t, s, http.MethodGet, "/v1/listings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), listingID)

	// Record the sale into escrow.
	w = do(t, s, http.MethodPost, "/v1/escrow", sellerKey, map[string]any{
		"listingId": listingID,
		"buyerName": "Sam Buyer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	opened := decode(t, w)
	escrowID := opened["id"].(string)
	assert.Equal(t, "holding", opened["status"])
	assert.Equal(t, "100.00", opened["amount"])

	// Settlement is the admin's call.
	w = do(t, s, http.MethodPost, "/v1/escrow/"+escrowID+"/release", sellerKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodPost, "/v1/escrow/"+escrowID+"/release", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "released", decode(t, w)["status"])
}

func TestModerationRejectFlow(t *testing.T) {
	s := newTestServer(t)
	sellerKey := registerStudent(t, s, "seller2")
	adminKey := issueAdminKey(t, s)

	w := do(t, s, http.MethodPost, "/v1/listings", sellerKey, map[string]any{
		"title": "Suspicious item", "price": "5.00", "categoryId": "other",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	listingID := decode(t, w)["id"].(string)

	w = do(t, s, http.MethodPost, "/v1/listings/"+listingID+"/commission", sellerKey, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, s, http.MethodPost, "/v1/admin/listings/"+listingID+"/reject", adminKey, map[string]any{
		"reason": "prohibited item",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decode(t, w)
	assert.Equal(t, "rejected", rejected["status"])
	assert.Equal(t, "prohibited item", rejected["rejectionReason"])

	// Rejected listings can be deleted by the seller.
	w = do(t, s, http.MethodDelete, "/v1/listings/"+listingID, sellerKey, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStudentCannotModerate(t *testing.T) {
	s := newTestServer(t)
	sellerKey := registerStudent(t, s, "seller3")

	w := do(t, s, http.MethodGet, "/v1/admin/listings/review", sellerKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "quadmarket_")
}
