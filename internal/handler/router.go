package handler

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/fleetdesk/internal/observability/metrics"
	"github.com/aryan0dhankhar/fleetdesk/internal/security"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/audit"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/middleware"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/ratelimit"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
)

// RouterDeps holds everything the HTTP surface is wired to.
type RouterDeps struct {
	Identity     *service.IdentityService
	Provisioning *service.ProvisioningService
	Orders       *service.OrderService
	Records      *service.RecordService
	Tenants      *service.TenantService
	Memberships  domain.MembershipRepository
	Bus          domain.EventBus

	Authz            *security.AuthorizationService
	Audit            *audit.Logger
	Limiter          *ratelimit.Limiter
	ProvisionLimiter *ratelimit.Limiter

	Readiness      map[string]Pinger
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(d RouterDeps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	if d.Authz == nil {
		d.Authz = security.NewAuthorizationService(log)
	}
	if d.Audit == nil {
		d.Audit = audit.NewLogger(log)
	}

	health := NewHealthHandler(d.Readiness, log)
	authH := NewAuthHandler(d.Identity, log)
	provH := NewProvisionHandler(d.Provisioning, log)
	ordersH := NewOrdersHandler(d.Orders, log)
	recordsH := NewRecordsHandler(d.Records, log)
	tenantsH := NewTenantsHandler(d.Tenants, log)
	eventsH := NewEventsHandler(d.Bus, d.Memberships, log, d.AllowedOrigins)

	limit := func(l *ratelimit.Limiter) func(http.Handler) http.Handler {
		if l == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.RateLimitMiddleware(l, log)
	}
	perm := func(p security.Permission) func(http.Handler) http.Handler {
		return middleware.RequirePermission(d.Authz, d.Audit, p)
	}

	r := chi.NewRouter()
	r.Use(withRequestID(log))
	r.Use(withCORS(d.AllowedOrigins))
	r.Use(metrics.HTTPMetricsMiddleware)
	r.Use(middleware.SanitizeInputs(log))
	r.Use(middleware.ValidateJSONContentType(log))

	r.Get("/healthz", health.Health)
	r.Get("/readyz", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.With(limit(d.Limiter)).Get("/public/tenants/{tenantID}/pix-keys", tenantsH.PublicPixKeys)
	r.With(limit(d.ProvisionLimiter)).Post("/api/auth/register", authH.Register)
	r.With(limit(d.Limiter)).Post("/api/auth/login", authH.Login)

	// Verified identity, claims optional.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(d.Identity, log))

		r.With(limit(d.ProvisionLimiter)).Post("/provision", provH.Provision)
		r.With(limit(d.ProvisionLimiter)).Post("/set-claims", provH.SetClaims)

		r.Post("/api/auth/refresh", authH.Refresh)
		r.Get("/api/auth/me", authH.Me)
		r.Post("/api/auth/change-password", authH.ChangePassword)
		r.Get("/api/tenants", tenantsH.Entitlements)
		r.Get("/ws/events", eventsH.ServeHTTP)

		// Resolved tenant context.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireTenant(d.Memberships, d.Audit, log))
			r.Use(limit(d.Limiter))
			r.Use(middleware.AuditMiddleware(d.Audit))

			r.Get("/api/orders/lifecycle", NewLifecycleHandler().ServeHTTP)
			r.With(perm(security.PermReadOrders)).Get("/api/orders", ordersH.List)
			r.With(perm(security.PermCreateOrders)).Post("/api/orders", ordersH.Create)
			r.With(perm(security.PermReadOrders)).Get("/api/orders/{id}", ordersH.Get)
			r.With(perm(security.PermTransitionOrders)).Post("/api/orders/{id}/transitions", ordersH.Transition)

			r.With(perm(security.PermReadRecords)).Get("/api/records/{collection}", recordsH.List)
			r.With(perm(security.PermManageRecords)).Post("/api/records/{collection}", recordsH.Create)
			r.With(perm(security.PermReadRecords)).Get("/api/records/{collection}/{id}", recordsH.Get)
			r.With(perm(security.PermManageRecords)).Put("/api/records/{collection}/{id}", recordsH.Update)
			r.With(perm(security.PermManageRecords)).Delete("/api/records/{collection}/{id}", recordsH.Delete)

			r.Get("/api/tenant", tenantsH.Get)
			r.With(perm(security.PermManageTenant)).Put("/api/tenant", tenantsH.UpdateSettings)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = generateRequestID()
			}
			w.Header().Set("X-Request-ID", reqID)

			ctx := logger.WithRequestID(r.Context(), reqID)
			start := time.Now()

			next.ServeHTTP(w, r.WithContext(ctx))

			log.Debug("request completed",
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// withCORS honours the configured origins
func withCORS(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if originAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else if len(allowed) > 0 {
				w.Header().Set("Access-Control-Allow-Origin", allowed[0])
			}
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, "+middleware.TenantHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
