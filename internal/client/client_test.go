package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/client"
	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
	"github.com/aryan0dhankhar/fleetdesk/internal/session"
	"github.com/aryan0dhankhar/fleetdesk/internal/testutil"
	"github.com/aryan0dhankhar/fleetdesk/internal/testutil/testserver"
)

func setup(t *testing.T) (*testserver.Server, *client.Client) {
	t.Helper()
	srv := testserver.New(t, testserver.Options{Policy: service.ProvisioningPolicy{DefaultTenantID: "t1"}})
	return srv, client.New(srv.URL, srv.Client())
}

func TestSessionResolvesOverHTTP(t *testing.T) {
	srv, c := setup(t)
	ctx := context.Background()

	reg, err := c.Register(ctx, "ana@example.com", "Ana", "Password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Claims != nil {
		t.Fatalf("new identity must start without claims")
	}

	r := session.NewResolver(c, session.Options{Timeout: 5 * time.Second, Logger: testutil.QuietLogger()})
	defer r.Close()
	r.CredentialChanged(reg.Token)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := r.Wait(waitCtx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Phase != session.PhaseReady || st.TenantID != "t1" || st.Role != domain.RoleOwner {
		t.Fatalf("expected ready owner of t1, got %+v", st)
	}
	if got := srv.Directory.AssignCalls.Load(); got != 1 {
		t.Fatalf("expected one assignment, got %d", got)
	}

	// A later sign-in of the same identity carries its claims already.
	login, err := c.Login(ctx, "ana@example.com", "Password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	r.CredentialChanged(login.Token)
	if st, _ = r.Wait(waitCtx); st.Phase != session.PhaseReady {
		t.Fatalf("expected ready after login, got %+v", st)
	}
	if got := srv.Directory.AssignCalls.Load(); got != 1 {
		t.Fatalf("claimed identity was provisioned again (%d assignments)", got)
	}

	sel := session.NewSelector(r, c)
	sc, err := sel.Active(ctx)
	if err != nil || sc.TenantID != "t1" {
		t.Fatalf("expected implicit t1 scope, got %+v (%v)", sc, err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, c := setup(t)
	if _, err := c.Verify(context.Background(), "garbage"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestOrderCalls(t *testing.T) {
	srv, c := setup(t)
	ctx := context.Background()
	cred := client.Credentials{Token: srv.TokenFor(t, "id-1", &domain.Claims{TenantID: "t1", Role: domain.RoleDispatcher})}

	o, err := c.CreateOrder(ctx, cred, client.OrderInput{Description: "pallets"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != domain.StatusPending {
		t.Fatalf("new order must be pending, got %s", o.Status)
	}

	if _, err := c.TransitionOrder(ctx, cred, o.ID, "EM_ROTA"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := c.TransitionOrder(ctx, cred, o.ID, "PENDENTE"); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if _, err := c.TransitionOrder(ctx, cred, o.ID, "VOANDO"); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	got, err := c.GetOrder(ctx, cred, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusInRoute || len(got.Timeline) != 2 {
		t.Fatalf("unexpected order %+v", got)
	}

	list, err := c.ListOrders(ctx, cred, "EM_ROTA", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one order in route, got %d (%v)", len(list), err)
	}

	foreign := client.Credentials{Token: cred.Token, TenantID: "t2"}
	if _, err := c.ListOrders(ctx, foreign, "", 0); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign tenant header, got %v", err)
	}
}

func TestSetClaimsAndEntitlements(t *testing.T) {
	srv, c := setup(t)
	ctx := context.Background()
	srv.Directory.AddTenant("t1", domain.TenantSettings{})
	srv.Directory.AddMember("id-1", "t1", domain.RoleAdmin)
	token := srv.TokenFor(t, "id-1", nil)

	claims, err := c.SetClaims(ctx, token, domain.Claims{TenantID: "t1", Role: domain.RoleDispatcher})
	if err != nil || claims.TenantID != "t1" {
		t.Fatalf("set claims: %+v (%v)", claims, err)
	}
	if _, err := c.SetClaims(ctx, token, domain.Claims{TenantID: "t1", Role: domain.RoleOwner}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden escalation, got %v", err)
	}

	ents, err := c.Entitlements(ctx, token)
	if err != nil || len(ents) != 1 || ents[0].Tenant.ID != "t1" {
		t.Fatalf("unexpected entitlements %+v (%v)", ents, err)
	}
}

func TestWatchEvents(t *testing.T) {
	srv, c := setup(t)
	cred := client.Credentials{Token: srv.TokenFor(t, "id-1", &domain.Claims{TenantID: "t1", Role: domain.RoleOwner})}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan domain.EventEnvelope, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- c.WatchEvents(ctx, cred.Token, "", func(env domain.EventEnvelope) { events <- env })
	}()

	// The watcher may not be connected yet; keep producing transitions
	// until one arrives.
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case env := <-events:
			if env.Type != domain.EventOrderTransitioned {
				t.Fatalf("unexpected event type %q", env.Type)
			}
			cancel()
			if err := <-errc; !errors.Is(err, context.Canceled) {
				t.Fatalf("expected watcher to stop with context canceled, got %v", err)
			}
			return
		case <-tick.C:
			o, err := c.CreateOrder(ctx, cred, client.OrderInput{})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := c.TransitionOrder(ctx, cred, o.ID, "CANCELADA"); err != nil {
				t.Fatalf("transition: %v", err)
			}
		case <-ctx.Done():
			t.Fatalf("no event received")
		}
	}
}
