package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/reliability/retry"
)

// Guard runs work only once the session has a confirmed tenant context.
type Guard struct {
	resolver   *Resolver
	selector   *Selector
	redirect   func(State)
	scopeError func(error)
	backoff    *retry.Config
	logger     *slog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRedirect sets the hook called when the session ends up unauthenticated.
func WithRedirect(fn func(State)) GuardOption {
	return func(g *Guard) { g.redirect = fn }
}

// WithScopeError sets the hook called each time Mount fails to resolve the
// tenant scope of a ready session. Mount keeps retrying with backoff.
func WithScopeError(fn func(error)) GuardOption {
	return func(g *Guard) { g.scopeError = fn }
}

// WithBackoff sets the delays between scope resolution attempts in Mount.
// Only the backoff fields of cfg are used.
func WithBackoff(cfg *retry.Config) GuardOption {
	return func(g *Guard) { g.backoff = cfg }
}

// WithLogger sets the guard's logger.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard creates a guard over a resolver and its selector.
func NewGuard(resolver *Resolver, selector *Selector, opts ...GuardOption) *Guard {
	g := &Guard{
		resolver:   resolver,
		selector:   selector,
		redirect:   func(State) {},
		scopeError: func(error) {},
		backoff: &retry.Config{
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do waits for the session to settle and runs fn once with the active scope.
func (g *Guard) Do(ctx context.Context, fn func(context.Context, Scope) error) error {
	st, err := g.resolver.Wait(ctx)
	if err != nil {
		return err
	}
	if st.Phase == PhaseUnauthenticated {
		g.redirect(st)
		return unauthenticated(st)
	}
	sc, err := g.selector.Active(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, sc)
}

// Mount keeps fn running while the session is ready. fn is started once per
// ready session and its context is cancelled as soon as the credential
// changes or the session ends. When the tenant scope of a ready session
// cannot be resolved, the failure is reported and resolution is retried with
// backoff until it succeeds or the session changes. Mount returns when ctx is
// done or the resolver is closed.
func (g *Guard) Mount(ctx context.Context, fn func(context.Context, Scope)) error {
	states, unsubscribe := g.resolver.Subscribe()
	defer unsubscribe()

	var (
		mounted    uint64
		redirected uint64
		stop       context.CancelFunc
		done       chan struct{}

		pending  uint64
		failures int
		timer    *time.Timer
		retryC   <-chan time.Time
	)
	unmount := func() {
		if stop == nil {
			return
		}
		stop()
		<-done
		stop, done, mounted = nil, nil, 0
	}
	cancelRetry := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, retryC, pending, failures = nil, nil, 0, 0
	}
	defer unmount()
	defer cancelRetry()

	mount := func(gen uint64) {
		sc, err := g.selector.Active(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := retry.Backoff(g.backoff, failures)
			failures++
			g.logger.Warn("cannot resolve tenant scope, retrying",
				slog.Int("attempt", failures),
				slog.Duration("backoff", delay),
				slog.String("error", err.Error()),
			)
			g.scopeError(err)
			pending = gen
			timer = time.NewTimer(delay)
			retryC = timer.C
			return
		}
		cancelRetry()
		runCtx, cancel := context.WithCancel(ctx)
		stop, done, mounted = cancel, make(chan struct{}), gen
		go func(finished chan struct{}) {
			defer close(finished)
			fn(runCtx, sc)
		}(done)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retryC:
			timer, retryC = nil, nil
			if st := g.resolver.State(); st.Phase == PhaseReady && st.Generation == pending {
				mount(pending)
			}
		case st, ok := <-states:
			if !ok {
				return ErrClosed
			}
			switch st.Phase {
			case PhaseReady:
				if mounted == st.Generation || (retryC != nil && pending == st.Generation) {
					continue
				}
				unmount()
				cancelRetry()
				mount(st.Generation)
			case PhaseUnauthenticated:
				unmount()
				cancelRetry()
				if redirected != st.Generation {
					redirected = st.Generation
					g.redirect(st)
				}
			default:
				unmount()
				cancelRetry()
			}
		}
	}
}

func unauthenticated(st State) error {
	if st.Err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, st.Err)
	}
	return domain.ErrUnauthorized
}
