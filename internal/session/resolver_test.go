package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

func TestNewIdentityIsProvisionedThenReady(t *testing.T) {
	b := newFakeBackend()
	r := newResolver(t, b)

	var (
		mu     sync.Mutex
		phases []Phase
	)
	states, unsubscribe := r.Subscribe()
	defer unsubscribe()
	go func() {
		for st := range states {
			mu.Lock()
			phases = append(phases, st.Phase)
			mu.Unlock()
		}
	}()

	r.CredentialChanged(b.issue("ana"))
	st := waitSettled(t, r)

	if st.Phase != PhaseReady || st.TenantID != "t1" || st.Role != domain.RoleOwner {
		t.Fatalf("expected ready in t1 as owner, got %+v", st)
	}
	if st.IsLoading() {
		t.Fatalf("ready session must not be loading")
	}
	if got := b.provisionCalls.Load(); got != 1 {
		t.Fatalf("expected one provisioning call, got %d", got)
	}
	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one forced refresh, got %d", got)
	}
	vt, err := b.Verify(context.Background(), st.Token)
	if err != nil || vt.Claims == nil {
		t.Fatalf("session token must be the refreshed, claimed one")
	}

	mu.Lock()
	defer mu.Unlock()
	seen := map[Phase]bool{}
	for _, p := range phases {
		seen[p] = true
	}
	if !seen[PhaseProvisioning] {
		t.Fatalf("expected provisioning phase to be observed, got %v", phases)
	}
}

func TestClaimedTokenSkipsProvisioning(t *testing.T) {
	b := newFakeBackend()
	b.grant("bob", domain.Claims{TenantID: "t9", Role: domain.RoleDriver})
	r := newResolver(t, b)

	r.CredentialChanged(b.issue("bob"))
	st := waitSettled(t, r)

	if st.Phase != PhaseReady || st.TenantID != "t9" || st.Role != domain.RoleDriver {
		t.Fatalf("unexpected state %+v", st)
	}
	if b.provisionCalls.Load() != 0 || b.refreshCalls.Load() != 0 {
		t.Fatalf("claimed identity must not be provisioned")
	}
}

func TestResolutionFailsClosed(t *testing.T) {
	t.Run("invalid token", func(t *testing.T) {
		r := newResolver(t, newFakeBackend())
		r.CredentialChanged("garbage")
		st := waitSettled(t, r)
		if st.Phase != PhaseUnauthenticated || !errors.Is(st.Err, domain.ErrInvalidToken) {
			t.Fatalf("expected unauthenticated with invalid token, got %+v", st)
		}
	})

	t.Run("provisioning failure", func(t *testing.T) {
		b := newFakeBackend()
		b.failErr = domain.ErrProvisioningFailed
		r := newResolver(t, b)
		r.CredentialChanged(b.issue("carl"))
		st := waitSettled(t, r)
		if st.Phase != PhaseUnauthenticated || !errors.Is(st.Err, domain.ErrProvisioningFailed) {
			t.Fatalf("expected unauthenticated after failed provisioning, got %+v", st)
		}
		if st.TenantID != "" || st.Role != "" {
			t.Fatalf("failed session must not expose a tenant: %+v", st)
		}
	})

	t.Run("empty credential", func(t *testing.T) {
		r := newResolver(t, newFakeBackend())
		r.CredentialChanged("")
		if st := r.State(); st.Phase != PhaseUnauthenticated || st.Err != nil {
			t.Fatalf("expected plain unauthenticated, got %+v", st)
		}
	})
}

func TestConcurrentNotificationsProvisionOnce(t *testing.T) {
	b := newFakeBackend()
	b.gate = make(chan struct{})
	r := newResolver(t, b)

	raw := b.issue("dora")
	r.CredentialChanged(raw)
	r.CredentialChanged(raw)

	waitFor(t, r, func(st State) bool {
		return st.Phase == PhaseProvisioning && st.Generation == 2
	})
	close(b.gate)

	st := waitSettled(t, r)
	if st.Phase != PhaseReady || st.TenantID != "t1" {
		t.Fatalf("expected ready in t1, got %+v", st)
	}
	if got := b.provisionCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one provisioning call, got %d", got)
	}
}

func TestSupersedingIdentityDiscardsStaleResult(t *testing.T) {
	b := newFakeBackend()
	b.gate = make(chan struct{})
	b.grant("erin", domain.Claims{TenantID: "t2", Role: domain.RoleAdmin})
	r := newResolver(t, b)

	r.CredentialChanged(b.issue("fred"))
	waitFor(t, r, func(st State) bool { return st.Phase == PhaseProvisioning })

	r.CredentialChanged(b.issue("erin"))
	st := waitSettled(t, r)
	if st.IdentityID != "erin" || st.TenantID != "t2" {
		t.Fatalf("expected erin in t2, got %+v", st)
	}

	// Let fred's round-trip finish; its result belongs to a dead generation.
	close(b.gate)
	deadline := time.Now().Add(2 * time.Second)
	for b.refreshCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if st := r.State(); st.IdentityID != "erin" || st.TenantID != "t2" {
		t.Fatalf("stale provisioning result leaked into session: %+v", st)
	}
}

func TestCredentialChangeClearsTenant(t *testing.T) {
	b := newFakeBackend()
	b.grant("gil", domain.Claims{TenantID: "t3", Role: domain.RoleOwner})
	b.gate = make(chan struct{})
	r := newResolver(t, b)

	r.CredentialChanged(b.issue("gil"))
	waitSettled(t, r)

	r.CredentialChanged(b.issue("hana"))
	st := r.State()
	if st.Phase == PhaseReady || st.TenantID != "" || !st.IsLoading() {
		t.Fatalf("credential change must reset the resolved tenant, got %+v", st)
	}
	close(b.gate)
}

func TestSignOut(t *testing.T) {
	b := newFakeBackend()
	b.grant("ivy", domain.Claims{TenantID: "t1", Role: domain.RoleOwner})
	r := newResolver(t, b)

	r.CredentialChanged(b.issue("ivy"))
	waitSettled(t, r)
	r.SignOut()

	st := r.State()
	if st.Phase != PhaseUnauthenticated || st.IdentityID != "" || st.TenantID != "" {
		t.Fatalf("expected cleared unauthenticated state, got %+v", st)
	}
}

func TestCloseDiscardsOutstandingProvisioning(t *testing.T) {
	b := newFakeBackend()
	b.gate = make(chan struct{})
	r := NewResolver(b, Options{Logger: quietLogger()})

	states, _ := r.Subscribe()
	r.CredentialChanged(b.issue("jon"))
	waitFor(t, r, func(st State) bool { return st.Phase == PhaseProvisioning })

	r.Close()
	close(b.gate)

	if _, err := r.Wait(t.Context()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	for range states {
	}
	if st := r.State(); st.Phase == PhaseReady {
		t.Fatalf("closed resolver must not become ready")
	}
}
