package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func mustToken(t *testing.T, secret []byte, role string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func serve(t *testing.T, method, path, token string) (*httptest.ResponseRecorder, context.Context) {
	t.Helper()
	var seen context.Context
	mw := NewMiddleware(testSecret, NewDefaultPolicy("/healthz", "/metrics"), nil)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context()
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	rec, _ := serve(t, http.MethodGet, "/api/v1/reports/monthly", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsExpiredAndForeignTokens(t *testing.T) {
	rec, _ := serve(t, http.MethodGet, "/api/v1/reports/monthly", mustToken(t, testSecret, "viewer", -time.Minute))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, http.MethodGet, "/api/v1/reports/monthly", mustToken(t, []byte("other"), "viewer", time.Hour))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, http.MethodGet, "/api/v1/reports/monthly", mustToken(t, testSecret, "owner", time.Hour))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareViewerReadsReports(t *testing.T) {
	token := mustToken(t, testSecret, "viewer", time.Hour)
	for _, path := range []string{
		"/api/v1/reports/monthly",
		"/api/v1/reports/invoice",
		"/api/v1/reports/invoice.csv",
		"/api/v1/reports/invoice.xlsx",
		"/api/v1/zones",
	} {
		rec, ctx := serve(t, http.MethodGet, path, token)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, RoleViewer, RoleFromContext(ctx))
		assert.Equal(t, "user-1", SubjectFromContext(ctx))
	}
}

func TestMiddlewareMaintenanceNeedsAdmin(t *testing.T) {
	for _, path := range []string{"/api/v1/reports/cache/clear", "/api/v1/settings/reload"} {
		rec, _ := serve(t, http.MethodPost, path, mustToken(t, testSecret, "operator", time.Hour))
		assert.Equal(t, http.StatusForbidden, rec.Code, path)

		rec, _ = serve(t, http.MethodPost, path, mustToken(t, testSecret, "admin", time.Hour))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMiddlewareExemptPaths(t *testing.T) {
	rec, _ := serve(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = serve(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPolicyFallbacks(t *testing.T) {
	p := NewDefaultPolicy()

	role, ok := p.RequiredRole(httptest.NewRequest(http.MethodHead, "/api/v1/zones", nil))
	require.True(t, ok)
	assert.Equal(t, RoleViewer, role)

	role, ok = p.RequiredRole(httptest.NewRequest(http.MethodDelete, "/api/v1/zones", nil))
	require.True(t, ok)
	assert.Equal(t, RoleAdmin, role)

	_, ok = p.RequiredRole(httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.False(t, ok)
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAtLeast(RoleAdmin, RoleViewer))
	assert.True(t, RoleAtLeast(RoleOperator, RoleOperator))
	assert.False(t, RoleAtLeast(RoleViewer, RoleAdmin))
	assert.False(t, RoleAtLeast(Role(""), RoleViewer))
}
