package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fieldserve/roster-import/internal/config"
	"github.com/fieldserve/roster-import/internal/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig returns a config with the loader's defaults, no database or
// external services required. Router-level tests only exercise paths that
// never reach the core service.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RequestTimeout: 30 * time.Second,
		},
		Rate: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 100,
			UploadLimit:       10,
		},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	limiter := core.NewImportLimiter(2, time.Second)
	return NewServer(nil, limiter, cfg)
}

func doRequest(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&er))
	return er
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestAPIContextTenant(t *testing.T) {
	s := newTestServer(t, nil)
	tenant := uuid.New()

	tests := []struct {
		name       string
		tenantHdr  string
		wantStatus int
		wantCode   string
	}{
		{name: "missing tenant", tenantHdr: "", wantStatus: http.StatusBadRequest, wantCode: "AUTH_MISSING_TENANT"},
		{name: "malformed tenant", tenantHdr: "not-a-uuid", wantStatus: http.StatusBadRequest, wantCode: "AUTH_INVALID_TENANT"},
		{name: "valid tenant", tenantHdr: tenant.String(), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/fields", nil)
			if tt.tenantHdr != "" {
				req.Header.Set("X-Tenant-ID", tt.tenantHdr)
			}

			rec := doRequest(t, s, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeErrorResponse(t, rec).Code)
			}
		})
	}
}

func TestFieldCatalogEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/fields", nil)
	req.Header.Set("X-Tenant-ID", uuid.NewString())
	rec := doRequest(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		CatalogVersion string           `json:"catalog_version"`
		Fields         []core.FieldSpec `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, core.CatalogVersion, body.CatalogVersion)
	assert.NotEmpty(t, body.Fields)
}

func TestImportStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Tenant-ID", uuid.NewString())
	rec := doRequest(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuthOnRoutes(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Security.RequireAPIKey = true
		cfg.Security.APIKeys = []string{"secret-key"}
	})

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{name: "no key", key: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", key: "wrong", wantStatus: http.StatusForbidden},
		{name: "right key", key: "secret-key", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/fields", nil)
			req.Header.Set("X-Tenant-ID", uuid.NewString())
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}

			rec := doRequest(t, s, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "batch not found", err: core.ErrBatchNotFound, want: http.StatusNotFound},
		{name: "batch busy", err: core.ErrBatchBusy, want: http.StatusConflict},
		{name: "already committed", err: core.ErrBatchCommitted, want: http.StatusConflict},
		{name: "limiter full", err: core.ErrTooManyImports, want: http.StatusTooManyRequests},
		{name: "timeout", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "wrapped not found", err: errors.Join(errors.New("load batch"), core.ErrBatchNotFound), want: http.StatusNotFound},
		{name: "user-facing mapping error", err: errors.New(`required field "navn" is not mapped`), want: http.StatusUnprocessableEntity},
		{name: "unknown internal error", err: errors.New("pq: out of shared memory"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorStatus(tt.err))
		})
	}
}

func TestRespondErrorBody(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/batches/abc", nil)
	s.serviceError(rec, req, core.ErrBatchNotFound)

	require.Equal(t, http.StatusNotFound, rec.Code)
	er := decodeErrorResponse(t, rec)
	assert.Equal(t, "BAT001", er.Code)
	assert.NotEmpty(t, er.Message)
	assert.NotEmpty(t, er.Action)
}

func TestRateLimiterAllow(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"), "third request in the window must be denied")

	// Budgets are per IP.
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := newRateLimiter(1, 10*time.Millisecond)

	require.True(t, rl.allow("10.0.0.1"))
	require.False(t, rl.allow("10.0.0.1"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.allow("10.0.0.1"), "tokens must refill after the window passes")
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/batches", nil)
	req.Header.Set("X-Real-IP", "203.0.113.7")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeErrorResponse(t, rec).Code)
}
