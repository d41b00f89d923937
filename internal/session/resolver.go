// Package session resolves a client's credential into a confirmed tenant
// context and guards work that needs one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// ErrClosed is returned once the resolver has been torn down.
var ErrClosed = errors.New("session closed")

// Phase is the resolution state of a session.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseUnauthenticated
	PhaseAuthenticating
	PhaseProvisioning
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseProvisioning:
		return "provisioning"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Settled reports whether resolution has finished for the current credential.
func (p Phase) Settled() bool {
	return p == PhaseReady || p == PhaseUnauthenticated
}

// State is what consumers observe. TenantID and Role are only set in
// PhaseReady. Err explains the last fall back to PhaseUnauthenticated.
type State struct {
	Phase      Phase
	IdentityID string
	Email      string
	TenantID   string
	Role       domain.Role
	Token      string
	Err        error
	Generation uint64
}

// IsLoading is true while resolution is in progress.
func (s State) IsLoading() bool {
	return !s.Phase.Settled()
}

// Backend is the identity provider and provisioning boundary.
type Backend interface {
	Verify(ctx context.Context, raw string) (*domain.VerifiedToken, error)
	Provision(ctx context.Context, raw string) (domain.Claims, error)
	ForceRefresh(ctx context.Context, raw string) (string, error)
}

// Options configure a Resolver.
type Options struct {
	// Timeout bounds one resolution round-trip. Defaults to 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Resolver owns the session state. Every credential change starts a new
// generation; results belonging to an older generation are dropped.
type Resolver struct {
	backend Backend
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	flight singleflight.Group

	mu      sync.Mutex
	state   State
	gen     uint64
	changed chan struct{}
	subs    map[uint64]chan State
	nextSub uint64
	closed  bool
}

type provisioned struct {
	token    string
	verified *domain.VerifiedToken
}

// NewResolver creates a resolver in PhaseUnknown.
func NewResolver(backend Backend, opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		backend: backend,
		logger:  opts.Logger,
		timeout: opts.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}),
		subs:    make(map[uint64]chan State),
	}
}

// CredentialChanged handles a credential-change notification. An empty raw
// token means no identity. Resolution continues in the background.
func (r *Resolver) CredentialChanged(raw string) {
	raw = strings.TrimSpace(raw)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.gen++
	gen := r.gen
	if raw == "" {
		r.setLocked(State{Phase: PhaseUnauthenticated, Generation: gen})
		r.mu.Unlock()
		return
	}
	r.setLocked(State{Phase: PhaseAuthenticating, Generation: gen})
	r.mu.Unlock()

	go r.resolve(gen, raw)
}

// SignOut drops the identity.
func (r *Resolver) SignOut() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.gen++
	r.setLocked(State{Phase: PhaseUnauthenticated, Generation: r.gen})
}

// State returns the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe returns a channel carrying the latest state. Intermediate states
// may be skipped by slow readers; the most recent one is always delivered.
func (r *Resolver) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.state

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// Wait blocks until the session is settled.
func (r *Resolver) Wait(ctx context.Context) (State, error) {
	for {
		r.mu.Lock()
		st, changed, closed := r.state, r.changed, r.closed
		r.mu.Unlock()

		if closed {
			return st, ErrClosed
		}
		if st.Phase.Settled() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-changed:
		}
	}
}

// Close tears the resolver down. Outstanding round-trips are cancelled and
// their results discarded.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.gen++
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	r.cancel()
}

func (r *Resolver) resolve(gen uint64, raw string) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	vt, err := r.backend.Verify(ctx, raw)
	if err != nil {
		r.fail(gen, err)
		return
	}
	if vt.Claims != nil {
		if err := vt.Claims.Validate(); err != nil {
			r.fail(gen, err)
			return
		}
		r.ready(gen, raw, vt)
		return
	}

	// Joining the flight under the lock means a second notification for the
	// same identity always coalesces with one already in progress.
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.setLocked(State{Phase: PhaseProvisioning, IdentityID: vt.IdentityID, Email: vt.Email, Generation: gen})
	results := r.flight.DoChan(vt.IdentityID, func() (any, error) {
		return r.provision(vt.IdentityID, raw)
	})
	r.mu.Unlock()

	r.logger.Debug("provisioning identity", slog.String("identity_id", vt.IdentityID))

	select {
	case res := <-results:
		if res.Err != nil {
			r.fail(gen, res.Err)
			return
		}
		p := res.Val.(*provisioned)
		r.ready(gen, p.token, p.verified)
	case <-ctx.Done():
		r.fail(gen, ctx.Err())
	}
}

// provision runs one provisioning round-trip: assign, force a refresh, then
// re-verify the refreshed credential.
func (r *Resolver) provision(identityID, raw string) (*provisioned, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	if _, err := r.backend.Provision(ctx, raw); err != nil {
		return nil, err
	}
	fresh, err := r.backend.ForceRefresh(ctx, raw)
	if err != nil {
		return nil, err
	}
	vt, err := r.backend.Verify(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if vt.IdentityID != identityID || vt.Claims == nil {
		return nil, fmt.Errorf("%w: refreshed credential carries no claims", domain.ErrProvisioningFailed)
	}
	if err := vt.Claims.Validate(); err != nil {
		return nil, err
	}
	return &provisioned{token: fresh, verified: vt}, nil
}

func (r *Resolver) ready(gen uint64, raw string, vt *domain.VerifiedToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		r.logger.Debug("discarding stale resolution", slog.String("identity_id", vt.IdentityID))
		return
	}
	r.setLocked(State{
		Phase:      PhaseReady,
		IdentityID: vt.IdentityID,
		Email:      vt.Email,
		TenantID:   vt.Claims.TenantID,
		Role:       vt.Claims.Role,
		Token:      raw,
		Generation: gen,
	})
	r.logger.Info("session ready",
		slog.String("identity_id", vt.IdentityID),
		slog.String("tenant_id", vt.Claims.TenantID),
		slog.String("role", string(vt.Claims.Role)),
	)
}

func (r *Resolver) fail(gen uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	r.setLocked(State{Phase: PhaseUnauthenticated, Err: err, Generation: gen})
	r.logger.Warn("session resolution failed", slog.String("error", err.Error()))
}

func (r *Resolver) setLocked(st State) {
	r.state = st
	close(r.changed)
	r.changed = make(chan struct{})
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}
