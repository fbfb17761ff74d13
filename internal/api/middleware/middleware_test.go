package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt_copier/internal/api/auth"
)

func tenantEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, _ := GetTenant(r.Context())
		_, _ = w.Write([]byte(tenant))
	})
}

func TestAuthMiddleware(t *testing.T) {
	svc := auth.NewService("secret", time.Hour, nil)
	token, err := svc.GenerateToken("acme")
	require.NoError(t, err)

	h := AuthMiddleware(svc)(tenantEcho())

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", rec.Body.String())

	for _, header := range []string{"", "Bearer", "Token " + token, "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestLicenseMiddleware(t *testing.T) {
	svc := auth.NewService("secret", time.Hour, []auth.Tenant{{ID: "acme", Key: "LIC-ACME"}})
	h := LicenseMiddleware(svc)(tenantEcho())

	req := httptest.NewRequest(http.MethodGet, "/slave/orders?account=S1", nil)
	req.Header.Set(TenantKeyHeader, "LIC-ACME")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "acme", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/slave/orders?account=S1&key=LIC-ACME", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "acme", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/slave/orders?account=S1&key=WRONG", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://gui.local"})(tenantEcho())

	req := httptest.NewRequest(http.MethodOptions, "/copier/global", nil)
	req.Header.Set("Origin", "https://gui.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://gui.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/copier/status", nil)
	req.Header.Set("Origin", "https://evil.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodGet, "/slave/orders?account=S1&key=LIC-ACME", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "status=409")
	assert.Contains(t, out, "account=S1")
	assert.NotContains(t, out, "LIC-ACME")
}
