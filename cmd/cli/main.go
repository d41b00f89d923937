package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aryan0dhankhar/fleetdesk/internal/client"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/fleetdesk/internal/session"
)

var rootFlags = struct {
	apiURL  string
	verbose bool
}{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetdesk",
		Short:         "Fleetdesk back-office CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rootFlags.apiURL, "api", apiURLFromEnv(), "API endpoint (env FLEETDESK_API)")
	root.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Verbose logging")

	root.AddCommand(
		newRegisterCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
		newTenantsCommand(),
		newOrdersCommand(),
		newWatchCommand(),
	)
	return root
}

func apiURLFromEnv() string {
	if url := os.Getenv("FLEETDESK_API"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// app is one CLI invocation's session.
type app struct {
	api      *client.Client
	state    *stateFile
	resolver *session.Resolver
	selector *session.Selector
	guard    *session.Guard
	log      *slog.Logger
}

func newApp() (*app, error) {
	level := "error"
	if rootFlags.verbose {
		level = "debug"
	}
	log := logger.New(os.Stderr, level)

	st, err := loadState()
	if err != nil {
		return nil, err
	}
	api := client.New(rootFlags.apiURL, nil)
	resolver := session.NewResolver(api, session.Options{Timeout: 30 * time.Second, Logger: log})
	selector := session.NewSelector(resolver, api)
	guard := session.NewGuard(resolver, selector,
		session.WithLogger(log),
		session.WithRedirect(func(s session.State) {
			if s.Err != nil {
				fmt.Fprintf(os.Stderr, "✗ access denied: %v\n", s.Err)
			}
			fmt.Fprintln(os.Stderr, "Not logged in. Run: fleetdesk login --email <email> --password <password>")
		}),
		session.WithScopeError(func(err error) {
			fmt.Fprintf(os.Stderr, "✗ cannot load tenant: %v (retrying)\n", err)
		}),
	)
	return &app{api: api, state: st, resolver: resolver, selector: selector, guard: guard, log: log}, nil
}

func (a *app) close() { a.resolver.Close() }

// signIn feeds the stored credential to the resolver.
func (a *app) signIn() {
	a.resolver.CredentialChanged(a.state.Token)
}

// run executes fn in the resolved tenant scope, honouring the tenant pinned
// by "tenants select" and persisting a refreshed credential.
func (a *app) run(ctx context.Context, fn func(context.Context, session.Scope) error) error {
	a.signIn()
	return a.guard.Do(ctx, func(ctx context.Context, sc session.Scope) error {
		if a.state.TenantID != "" && a.state.TenantID != sc.TenantID {
			selected, err := a.selector.Select(ctx, a.state.TenantID)
			if err != nil {
				return fmt.Errorf("pinned tenant %s: %w", a.state.TenantID, err)
			}
			sc = selected
		}
		if sc.Token != a.state.Token {
			a.state.Token = sc.Token
			if err := a.state.save(); err != nil {
				return err
			}
		}
		return fn(ctx, sc)
	})
}

func credentials(sc session.Scope) client.Credentials {
	return client.Credentials{Token: sc.Token, TenantID: sc.TenantID}
}
