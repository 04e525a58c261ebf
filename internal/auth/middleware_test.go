package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/promptgate/pkg/configresolver"
	"github.com/wisbric/promptgate/pkg/tenant"
	"github.com/wisbric/promptgate/pkg/tenantcache"
)

type fakeResolver struct {
	result *tenant.Context
	err    error
	calls  int
}

func (f *fakeResolver) Resolve(ctx context.Context, keyHash string) (*tenant.Context, error) {
	f.calls++
	return f.result, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant.FromContext(r.Context()) == nil {
			t.Error("downstream handler: tenant context missing")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewarePublicPathBypassesAuth(t *testing.T) {
	cache := tenantcache.New(10)
	res := &fakeResolver{err: configresolver.ErrInvalidKey}
	mw := Middleware(cache, res, nil, testLogger())

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if res.calls != 0 {
		t.Error("resolver invoked for public path")
	}
}

func TestMiddlewareMissingKeyReturns401(t *testing.T) {
	cache := tenantcache.New(10)
	res := &fakeResolver{}
	mw := Middleware(cache, res, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	mw(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := rec.Body.String(); got == "" || !strings.Contains(got, "missing_api_key") {
		t.Errorf("body = %q, want missing_api_key", got)
	}
}

func TestMiddlewareInvalidKeyReturns401(t *testing.T) {
	cache := tenantcache.New(10)
	res := &fakeResolver{err: configresolver.ErrInvalidKey}
	mw := Middleware(cache, res, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("x-api-key", "sk-bogus-key-value")
	rec := httptest.NewRecorder()
	mw(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_api_key") {
		t.Errorf("body = %q, want invalid_api_key", rec.Body.String())
	}
}

func TestMiddlewareTenantInactiveReturns401(t *testing.T) {
	cache := tenantcache.New(10)
	res := &fakeResolver{err: configresolver.ErrTenantInactive}
	mw := Middleware(cache, res, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-some-key-value")
	rec := httptest.NewRecorder()
	mw(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tenant_inactive") {
		t.Errorf("body = %q, want tenant_inactive", rec.Body.String())
	}
}

func TestMiddlewareValidKeyAttachesContextAndCaches(t *testing.T) {
	cache := tenantcache.New(10)
	tc := &tenant.Context{TenantID: uuid.New(), AgentID: uuid.New()}
	res := &fakeResolver{result: tc}
	mw := Middleware(cache, res, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-a-real-key-value")
	rec := httptest.NewRecorder()
	mw(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if res.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", res.calls)
	}

	// Second request with the same key should hit the cache, not the resolver.
	rec2 := httptest.NewRecorder()
	mw(okHandler(t)).ServeHTTP(rec2, req)
	if res.calls != 1 {
		t.Errorf("resolver calls after second request = %d, want 1 (cache hit)", res.calls)
	}
}

func TestExtractKeyPrefersBearerOverXAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer from-bearer")
	req.Header.Set("x-api-key", "from-header")

	if got := extractKey(req); got != "from-bearer" {
		t.Errorf("extractKey() = %q, want from-bearer", got)
	}
}

func TestExtractKeyFallsBackToXAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", "from-header")

	if got := extractKey(req); got != "from-header" {
		t.Errorf("extractKey() = %q, want from-header", got)
	}
}

func TestHashKeyIsDeterministicAndNeverEqualsRaw(t *testing.T) {
	h1 := HashKey("sk-test-key")
	h2 := HashKey("sk-test-key")
	if h1 != h2 {
		t.Error("HashKey() not deterministic")
	}
	if h1 == "sk-test-key" {
		t.Error("HashKey() returned the raw key")
	}
}

func TestIsPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/live", true},
		{"/favicon.ico", true},
		{"/dashboard", true},
		{"/dashboard/settings", true},
		{"/v1/admin/tenants", true},
		{"/v1/portal/login", true},
		{"/v1/chat/completions", false},
		{"/", false},
	}
	for _, tt := range tests {
		if got := IsPublicPath(tt.path); got != tt.want {
			t.Errorf("IsPublicPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
