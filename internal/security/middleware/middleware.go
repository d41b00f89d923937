package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/security"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/audit"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/auth"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/ratelimit"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
)

// TenantHeader selects the active tenant among the identity's memberships.
const TenantHeader = "X-Tenant-ID"

type identityContextKey struct{}
type principalContextKey struct{}

// TokenVerifier verifies bearer credentials.
type TokenVerifier interface {
	Verify(raw string) (*domain.VerifiedToken, error)
}

// Identity is the verified caller, with or without claims.
type Identity struct {
	Token    *domain.VerifiedToken
	RawToken string
}

// Principal is the resolved tenant context of a request.
type Principal struct {
	IdentityID string
	TenantID   string
	Role       domain.Role
	Scope      store.Scope
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Authenticate verifies the bearer token and stores the identity on the
// request. Tokens without claims pass; RequireTenant gates tenant access.
// Websocket upgrades may carry the token in the "token" query parameter.
func Authenticate(v TokenVerifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ""
			if h := r.Header.Get("Authorization"); h != "" {
				tok, err := auth.ExtractToken(h)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "invalid auth")
					return
				}
				raw = tok
			} else if r.Method == http.MethodGet && r.Header.Get("Upgrade") == "websocket" {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing auth")
				return
			}

			vt, err := v.Verify(raw)
			if err != nil {
				log.Debug("token rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, &Identity{Token: vt, RawToken: raw})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenant resolves the tenant the request acts in. The token's claims
// name the home tenant; X-Tenant-ID may pick another tenant the identity holds
// a membership in. Unprovisioned identities are refused.
func RequireTenant(memberships domain.MembershipRepository, auditLog *audit.Logger, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				writeError(w, http.StatusUnauthorized, "missing auth")
				return
			}
			if !id.Token.Provisioned() {
				auditLog.LogDenied(r.Context(), "", id.Token.IdentityID, "identity not provisioned")
				writeError(w, http.StatusForbidden, "identity not provisioned")
				return
			}

			tenantID := id.Token.Claims.TenantID
			role := id.Token.Claims.Role
			if requested := r.Header.Get(TenantHeader); requested != "" && requested != tenantID {
				m, err := memberships.Get(r.Context(), id.Token.IdentityID, requested)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						auditLog.LogDenied(r.Context(), requested, id.Token.IdentityID, "no membership in requested tenant")
						writeError(w, http.StatusForbidden, "not a member of requested tenant")
						return
					}
					log.Error("membership lookup failed", slog.String("error", err.Error()))
					writeError(w, http.StatusInternalServerError, "failed to resolve tenant")
					return
				}
				tenantID, role = m.TenantID, m.Role
			}

			scope, err := store.NewScope(tenantID)
			if err != nil {
				writeError(w, http.StatusForbidden, "invalid tenant")
				return
			}
			t := &Principal{IdentityID: id.Token.IdentityID, TenantID: tenantID, Role: role, Scope: scope}
			ctx := context.WithValue(r.Context(), principalContextKey{}, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission refuses requests whose tenant role lacks perm.
func RequirePermission(authz *security.AuthorizationService, auditLog *audit.Logger, perm security.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := PrincipalFromContext(r.Context())
			if t == nil {
				writeError(w, http.StatusForbidden, "no tenant context")
				return
			}
			if err := authz.ValidatePermission(t.Role, perm); err != nil {
				auditLog.LogDenied(r.Context(), t.TenantID, t.IdentityID, string(perm))
				writeError(w, http.StatusForbidden, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware buckets requests by tenant, then identity, then client address.
func RateLimitMiddleware(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateKey(r)
			if !limiter.Allow(key) {
				log.Warn("rate limit exceeded", slog.String("key", key), slog.String("path", r.URL.Path))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if t := PrincipalFromContext(r.Context()); t != nil {
		return "tenant:" + t.TenantID
	}
	if id := IdentityFromContext(r.Context()); id != nil {
		return "identity:" + id.Token.IdentityID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// AuditMiddleware records every mutating request once it has been served.
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			tenantID, identityID := "", ""
			if t := PrincipalFromContext(r.Context()); t != nil {
				tenantID, identityID = t.TenantID, t.IdentityID
			} else if id := IdentityFromContext(r.Context()); id != nil {
				identityID = id.Token.IdentityID
			}
			status := "ok"
			if rec.status >= 400 {
				status = http.StatusText(rec.status)
			}
			auditLog.LogAction(r.Context(), tenantID, identityID, r.Method, "api", r.URL.Path, status, "")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// IdentityFromContext returns the verified caller, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

// PrincipalFromContext returns the resolved tenant context, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	t, _ := ctx.Value(principalContextKey{}).(*Principal)
	return t
}

// WithIdentity and WithPrincipal attach contexts outside the HTTP chain (tests, workers).
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

func WithPrincipal(ctx context.Context, t *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, t)
}
