// Package testserver runs the complete HTTP surface over in-memory
// repositories, miniredis and the in-process event bus.
package testserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/featureflags"
	"github.com/aryan0dhankhar/fleetdesk/internal/handler"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/events"
	"github.com/aryan0dhankhar/fleetdesk/internal/repository"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/auth"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
	"github.com/aryan0dhankhar/fleetdesk/internal/testutil"
)

// Options tune the server under test.
type Options struct {
	Policy service.ProvisioningPolicy
	Flags  featureflags.Static
}

// Server is a running test server and the fakes behind it.
type Server struct {
	*httptest.Server
	Directory    *testutil.Directory
	Users        *testutil.Users
	Bus          *events.LocalBus
	Tokens       *auth.TokenManager
	Identity     *service.IdentityService
	Provisioning *service.ProvisioningService
	Orders       *service.OrderService
}

// New starts a server that is shut down when t ends.
func New(t testing.TB, opts Options) *Server {
	t.Helper()
	log := testutil.QuietLogger()

	dir := testutil.NewDirectory()
	users := testutil.NewUsers()
	bus := events.NewLocalBus(log)
	tokens := auth.NewTokenManager("test-secret", "fleetdesk", time.Hour)
	recordStore := testutil.NewRedisStore(t)
	orderRepo := repository.NewOrderRepository(recordStore, log)
	recordRepo := repository.NewRecordRepository(recordStore, log)

	identity := service.NewIdentityService(users, dir, tokens, log)
	provisioning := service.NewProvisioningService(service.ProvisioningDeps{
		Claims:      dir,
		Tenants:     dir,
		Memberships: dir.Memberships(),
		Users:       users,
		Bus:         bus,
		Flags:       opts.Flags,
	}, opts.Policy, log)
	orders := service.NewOrderService(orderRepo, bus, nil, log)

	router := handler.NewRouter(handler.RouterDeps{
		Identity:     identity,
		Provisioning: provisioning,
		Orders:       orders,
		Records:      service.NewRecordService(recordRepo, log),
		Tenants:      service.NewTenantService(dir, dir.Memberships(), recordRepo, opts.Flags, log),
		Memberships:  dir.Memberships(),
		Bus:          bus,
		Readiness: map[string]handler.Pinger{
			"redis": handler.PingFunc(func(context.Context) error { return nil }),
		},
		Logger: log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		_ = bus.Close()
	})

	return &Server{
		Server:       srv,
		Directory:    dir,
		Users:        users,
		Bus:          bus,
		Tokens:       tokens,
		Identity:     identity,
		Provisioning: provisioning,
		Orders:       orders,
	}
}

// Register creates an identity and returns its (claim-less) token.
func (s *Server) Register(t testing.TB, email string) *service.TokenResult {
	t.Helper()
	res, err := s.Identity.Register(context.Background(), email, "", "Password123")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res
}

// TokenFor issues a token carrying claims without touching the directory.
func (s *Server) TokenFor(t testing.TB, identityID string, claims *domain.Claims) string {
	t.Helper()
	tok, _, err := s.Tokens.Issue(identityID, identityID+"@example.com", claims)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// AssertStatusCode helper function
func AssertStatusCode(t testing.TB, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType helper function
func AssertContentType(t testing.TB, resp *http.Response, expected string) {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != expected {
		t.Errorf("Expected Content-Type %s, got %s", expected, ct)
	}
}
