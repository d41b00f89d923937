package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// fakeBackend issues opaque tokens that snapshot the claims of their
// identity at issue time.
type fakeBackend struct {
	mu      sync.Mutex
	tokens  map[string]*domain.VerifiedToken
	claims  map[string]domain.Claims
	ents    map[string][]domain.Entitlement
	assign  domain.Claims
	failErr error
	gate    chan struct{}
	seq     int

	provisionCalls atomic.Int32
	refreshCalls   atomic.Int32
	verifyCalls    atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tokens: make(map[string]*domain.VerifiedToken),
		claims: make(map[string]domain.Claims),
		ents:   make(map[string][]domain.Entitlement),
		assign: domain.Claims{TenantID: "t1", Role: domain.RoleOwner},
	}
}

func (f *fakeBackend) issue(identityID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueLocked(identityID)
}

func (f *fakeBackend) issueLocked(identityID string) string {
	f.seq++
	raw := fmt.Sprintf("tok-%d", f.seq)
	vt := &domain.VerifiedToken{IdentityID: identityID, Email: identityID + "@example.com"}
	if c, ok := f.claims[identityID]; ok {
		vt.Claims = &c
	}
	f.tokens[raw] = vt
	return raw
}

func (f *fakeBackend) grant(identityID string, c domain.Claims, ents ...domain.Entitlement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[identityID] = c
	f.ents[identityID] = ents
}

func (f *fakeBackend) Verify(_ context.Context, raw string) (*domain.VerifiedToken, error) {
	f.verifyCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	vt, ok := f.tokens[raw]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	cp := *vt
	return &cp, nil
}

func (f *fakeBackend) Provision(ctx context.Context, raw string) (domain.Claims, error) {
	f.provisionCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.Claims{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return domain.Claims{}, f.failErr
	}
	vt, ok := f.tokens[raw]
	if !ok {
		return domain.Claims{}, domain.ErrUnauthorized
	}
	if c, ok := f.claims[vt.IdentityID]; ok {
		return c, nil
	}
	f.claims[vt.IdentityID] = f.assign
	f.ents[vt.IdentityID] = []domain.Entitlement{{Tenant: domain.Tenant{ID: f.assign.TenantID}, Role: f.assign.Role}}
	return f.assign, nil
}

func (f *fakeBackend) ForceRefresh(_ context.Context, raw string) (string, error) {
	f.refreshCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	vt, ok := f.tokens[raw]
	if !ok {
		return "", domain.ErrInvalidToken
	}
	return f.issueLocked(vt.IdentityID), nil
}

func (f *fakeBackend) Entitlements(_ context.Context, raw string) ([]domain.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vt, ok := f.tokens[raw]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return append([]domain.Entitlement(nil), f.ents[vt.IdentityID]...), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newResolver(t *testing.T, b Backend) *Resolver {
	t.Helper()
	r := NewResolver(b, Options{Timeout: 2 * time.Second, Logger: quietLogger()})
	t.Cleanup(r.Close)
	return r
}

func waitSettled(t *testing.T, r *Resolver) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v (state %s)", err, st.Phase)
	}
	return st
}

// waitFor blocks until a state matching pred is observed.
func waitFor(t *testing.T, r *Resolver, pred func(State) bool) State {
	t.Helper()
	states, unsubscribe := r.Subscribe()
	defer unsubscribe()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-states:
			if pred(st) {
				return st
			}
		case <-timeout:
			t.Fatalf("condition not reached, last state %+v", r.State())
			return State{}
		}
	}
}
