package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aryan0dhankhar/fleetdesk/internal/client"
	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/session"
)

func newRegisterCommand() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an identity and provision its tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.api.Register(cmd.Context(), email, name, password)
			if err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}
			a.state.Token, a.state.TenantID = res.Token, ""
			if err := a.state.save(); err != nil {
				return err
			}
			fmt.Printf("✓ Registered: %s\n", res.Email)
			return a.run(cmd.Context(), printScope)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&password, "password", "", "Password (min 8 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.api.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			a.state.Token, a.state.TenantID = res.Token, ""
			if err := a.state.save(); err != nil {
				return err
			}
			fmt.Printf("✓ Logged in as: %s\n", res.Email)
			return a.run(cmd.Context(), printScope)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		RunE: func(*cobra.Command, []string) error {
			if err := removeState(); err != nil {
				return err
			}
			fmt.Println("✓ Logged out")
			return nil
		},
	}
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the resolved identity and tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), printScope)
		},
	}
}

func printScope(_ context.Context, sc session.Scope) error {
	fmt.Printf("identity: %s\ntenant:   %s\nrole:     %s\n", sc.IdentityID, sc.TenantID, sc.Role)
	return nil
}

func newTenantsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "List and select tenants",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the tenants you belong to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), func(ctx context.Context, sc session.Scope) error {
				ents, err := a.selector.ListEntitledTenants(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "\tID\tNAME\tROLE")
				for _, e := range ents {
					marker := ""
					if e.Tenant.ID == sc.TenantID {
						marker = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, e.Tenant.ID, e.Tenant.Name, e.Role)
				}
				return w.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "select <tenant-id>",
		Short: "Pin the active tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			a.signIn()
			return a.guard.Do(cmd.Context(), func(ctx context.Context, _ session.Scope) error {
				sc, err := a.selector.Select(ctx, args[0])
				if err != nil {
					return err
				}
				a.state.Token, a.state.TenantID = sc.Token, sc.TenantID
				if err := a.state.save(); err != nil {
					return err
				}
				fmt.Printf("✓ Active tenant: %s (%s)\n", sc.TenantID, sc.Role)
				return nil
			})
		},
	})
	return cmd
}

func newOrdersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Delivery order operations",
	}

	var in client.OrderInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a PENDENTE order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), func(ctx context.Context, sc session.Scope) error {
				o, err := a.api.CreateOrder(ctx, credentials(sc), in)
				if err != nil {
					return err
				}
				fmt.Printf("✓ Order created: %s (%s)\n", o.ID, o.Status)
				return nil
			})
		},
	}
	create.Flags().StringVar(&in.Description, "description", "", "Free-text description")
	create.Flags().StringVar(&in.ClientID, "client", "", "Client record ID")
	create.Flags().StringVar(&in.DriverID, "driver", "", "Driver record ID")
	create.Flags().StringVar(&in.VehicleID, "vehicle", "", "Vehicle record ID")
	create.Flags().StringVar(&in.OriginID, "origin", "", "Origin record ID")
	create.Flags().StringVar(&in.DestinationID, "destination", "", "Destination record ID")

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List orders of the active tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), func(ctx context.Context, sc session.Scope) error {
				orders, err := a.api.ListOrders(ctx, credentials(sc), status, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tDESCRIPTION\tUPDATED")
				for _, o := range orders {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.ID, o.Status, o.Description, o.UpdatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status")
	list.Flags().IntVar(&limit, "limit", 0, "Maximum number of orders")

	get := &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show an order and its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), func(ctx context.Context, sc session.Scope) error {
				o, err := a.api.GetOrder(ctx, credentials(sc), args[0])
				if err != nil {
					return err
				}
				printOrder(o)
				return nil
			})
		},
	}

	transition := &cobra.Command{
		Use:   "transition <order-id> <status>",
		Short: "Move an order along its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), func(ctx context.Context, sc session.Scope) error {
				o, err := a.api.TransitionOrder(ctx, credentials(sc), args[0], args[1])
				if err != nil {
					return err
				}
				printOrder(o)
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, get, transition)
	return cmd
}

func printOrder(o *client.Order) {
	fmt.Printf("order:  %s\nstatus: %s\n", o.ID, o.Status)
	if len(o.Next) > 0 {
		fmt.Printf("next:   %v\n", o.Next)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tSTATUS\tBY")
	for _, e := range o.Timeline {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.At.Format(time.RFC3339), e.Status, e.By)
	}
	_ = w.Flush()
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream order transitions of the active tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			a.signIn()

			// Remounted whenever the credential changes, so the stream always
			// runs under the current claims.
			err = a.guard.Mount(cmd.Context(), func(ctx context.Context, sc session.Scope) {
				fmt.Printf("watching tenant %s as %s\n", sc.TenantID, sc.Role)
				err := a.api.WatchEvents(ctx, sc.Token, sc.TenantID, func(env domain.EventEnvelope) {
					if env.Type == domain.EventCredentialChanged {
						a.refresh(ctx, sc.Token)
						return
					}
					fmt.Printf("%s %s\n", env.Subject, env.Data)
				})
				if err != nil && ctx.Err() == nil {
					fmt.Fprintf(os.Stderr, "✗ event stream ended: %v\n", err)
				}
			})
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

// refresh re-issues the credential after a server-side claims change and
// notifies the resolver.
func (a *app) refresh(ctx context.Context, raw string) {
	fresh, err := a.api.ForceRefresh(ctx, raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ refresh failed: %v\n", err)
		return
	}
	a.state.Token = fresh
	if err := a.state.save(); err != nil {
		fmt.Fprintf(os.Stderr, "✗ save session: %v\n", err)
	}
	a.resolver.CredentialChanged(fresh)
}
