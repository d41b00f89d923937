package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/security"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/audit"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/auth"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/ratelimit"
)

type fakeMemberships map[string]domain.Role // key identity|tenant

func (f fakeMemberships) Get(_ context.Context, identityID, tenantID string) (*domain.Membership, error) {
	role, ok := f[identityID+"|"+tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Membership{IdentityID: identityID, TenantID: tenantID, Role: role}, nil
}

func (f fakeMemberships) ListEntitlements(context.Context, string) ([]domain.Entitlement, error) {
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type chain struct {
	tm      *auth.TokenManager
	handler http.Handler
	seen    *Principal
}

func newChain(t *testing.T, members fakeMemberships, perm security.Permission) *chain {
	t.Helper()
	log := quietLogger()
	al := audit.NewLogger(log)
	c := &chain{tm: auth.NewTokenManager("test-secret", "fleetdesk", time.Hour)}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	var h http.Handler = final
	if perm != "" {
		h = RequirePermission(security.NewAuthorizationService(log), al, perm)(h)
	}
	h = RequireTenant(members, al, log)(h)
	c.handler = Authenticate(c.tm, log)(h)
	return c
}

func (c *chain) do(t *testing.T, token string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *chain) issue(t *testing.T, identity string, claims *domain.Claims) string {
	t.Helper()
	tok, _, err := c.tm.Issue(identity, identity+"@example.com", claims)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestAuthenticateRejectsMissingAndInvalidTokens(t *testing.T) {
	c := newChain(t, fakeMemberships{}, "")

	for name, token := range map[string]string{"missing": "", "garbage": "not.a.jwt"} {
		rec := c.do(t, token, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
			t.Fatalf("%s: expected json error body, got %q", name, rec.Body.String())
		}
	}
}

func TestRequireTenantRefusesUnprovisionedIdentity(t *testing.T) {
	c := newChain(t, fakeMemberships{}, "")
	rec := c.do(t, c.issue(t, "id-1", nil), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireTenantUsesHomeTenant(t *testing.T) {
	c := newChain(t, fakeMemberships{}, "")
	rec := c.do(t, c.issue(t, "id-1", &domain.Claims{TenantID: "t1", Role: domain.RoleDispatcher}), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if c.seen == nil || c.seen.TenantID != "t1" || c.seen.Role != domain.RoleDispatcher || c.seen.Scope.TenantID() != "t1" {
		t.Fatalf("unexpected principal %+v", c.seen)
	}
}

func TestRequireTenantHonoursTenantHeader(t *testing.T) {
	members := fakeMemberships{"id-1|t2": domain.RoleDriver}
	c := newChain(t, members, "")
	token := c.issue(t, "id-1", &domain.Claims{TenantID: "t1", Role: domain.RoleOwner})

	rec := c.do(t, token, map[string]string{TenantHeader: "t2"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if c.seen.TenantID != "t2" || c.seen.Role != domain.RoleDriver {
		t.Fatalf("expected driver in t2, got %+v", c.seen)
	}

	rec = c.do(t, token, map[string]string{TenantHeader: "t3"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign tenant, got %d", rec.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	c := newChain(t, fakeMemberships{}, security.PermManageTenant)

	rec := c.do(t, c.issue(t, "driver", &domain.Claims{TenantID: "t1", Role: domain.RoleDriver}), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("driver: expected 403, got %d", rec.Code)
	}
	rec = c.do(t, c.issue(t, "admin", &domain.Claims{TenantID: "t1", Role: domain.RoleAdmin}), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin: expected 204, got %d", rec.Code)
	}
}

func TestAuthenticateAcceptsWebsocketQueryToken(t *testing.T) {
	log := quietLogger()
	tm := auth.NewTokenManager("test-secret", "fleetdesk", time.Hour)
	tok, _, err := tm.Issue("id-1", "", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	var got *Identity
	h := Authenticate(tm, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/events?token="+tok, nil)
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got == nil || got.Token.IdentityID != "id-1" || got.RawToken != tok {
		t.Fatalf("expected identity from query token, got %+v", got)
	}

	// Plain requests must not fall back to the query string.
	got = nil
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders?token="+tok, nil))
	if rec.Code != http.StatusUnauthorized || got != nil {
		t.Fatalf("expected 401 without upgrade header, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewareKeysByTenant(t *testing.T) {
	limiter := ratelimit.NewLimiter(60, 1)
	defer limiter.Stop()
	h := RateLimitMiddleware(limiter, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(tenant string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{TenantID: tenant}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("t1"); code != http.StatusNoContent {
		t.Fatalf("first request: %d", code)
	}
	if code := send("t1"); code != http.StatusTooManyRequests {
		t.Fatalf("second request for t1: expected 429, got %d", code)
	}
	if code := send("t2"); code != http.StatusNoContent {
		t.Fatalf("t2 must have its own bucket, got %d", code)
	}
}

func TestValidateJSONContentType(t *testing.T) {
	h := ValidateJSONContentType(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", stringsReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/provision", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("empty body should pass, got %d", rec.Code)
	}
}

func TestSanitizeInputs(t *testing.T) {
	h := SanitizeInputs(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders?status=%3Cscript%3E", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func stringsReader(s string) io.Reader { return strings.NewReader(s) }
