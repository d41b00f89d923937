package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/featureflags"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/events"
	"github.com/aryan0dhankhar/fleetdesk/internal/observability/metrics"
	"github.com/aryan0dhankhar/fleetdesk/internal/observability/tracing"
	"github.com/aryan0dhankhar/fleetdesk/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/fleetdesk/internal/security"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/audit"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// ProvisioningPolicy decides which tenant a new identity lands in.
type ProvisioningPolicy struct {
	// DefaultTenantID attaches every new identity to one fixed tenant
	// (single-tenant deployments). Empty means one new tenant per identity.
	DefaultTenantID string
	// DefaultMemberRole is the role of identities joining an existing tenant.
	DefaultMemberRole domain.Role
}

// ProvisioningDeps groups the collaborators of ProvisioningService.
type ProvisioningDeps struct {
	Claims      domain.ClaimsStore
	Tenants     domain.TenantRepository
	Memberships domain.MembershipRepository
	Users       domain.UserRepository
	Bus         domain.EventBus
	Flags       featureflags.Source
	Breaker     *circuitbreaker.CircuitBreaker
	Authz       *security.AuthorizationService
	Audit       *audit.Logger
}

// ProvisioningService is the only writer of the claims store.
type ProvisioningService struct {
	deps   ProvisioningDeps
	policy ProvisioningPolicy
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewProvisioningService creates a new provisioning service
func NewProvisioningService(deps ProvisioningDeps, policy ProvisioningPolicy, logger *slog.Logger) *ProvisioningService {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Flags == nil {
		deps.Flags = featureflags.Static{}
	}
	if deps.Breaker == nil {
		deps.Breaker = circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
	}
	if deps.Authz == nil {
		deps.Authz = security.NewAuthorizationService(logger)
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewLogger(logger)
	}
	if !policy.DefaultMemberRole.Valid() {
		policy.DefaultMemberRole = domain.RoleDispatcher
	}
	return &ProvisioningService{deps: deps, policy: policy, logger: logger, now: time.Now}
}

// Provision assigns a tenant and role to identityID on its first login.
// Identities that already hold claims get them back without any write.
// Concurrent calls for the same identity share a single assignment.
func (s *ProvisioningService) Provision(ctx context.Context, identityID string) (domain.Claims, error) {
	if identityID == "" {
		return domain.Claims{}, domain.ErrUnauthorized
	}
	ctx, span := tracing.Start(ctx, "provisioning.provision", attribute.String("identity_id", identityID))
	start := time.Now()

	existing, err := s.deps.Claims.Get(ctx, identityID)
	switch {
	case err == nil:
		metrics.ObserveProvision("existing", time.Since(start))
		tracing.End(span, nil)
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		err = fmt.Errorf("%w: read claims: %v", domain.ErrProvisioningFailed, err)
		metrics.ObserveProvision("failed", time.Since(start))
		tracing.End(span, err)
		return domain.Claims{}, err
	}

	// The shared call must outlive any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(identityID, func() (any, error) {
		return s.assign(shared, identityID)
	})
	result := "created"
	if err != nil {
		result = "failed"
		if errors.Is(err, domain.ErrAssignmentUnavailable) {
			result = "unavailable"
		}
	}
	metrics.ObserveProvision(result, time.Since(start))
	tracing.End(span, err)
	if err != nil {
		return domain.Claims{}, err
	}
	return v.(domain.Claims), nil
}

func (s *ProvisioningService) assign(ctx context.Context, identityID string) (domain.Claims, error) {
	a, err := s.buildAssignment(ctx, identityID)
	if err != nil {
		s.deps.Audit.LogProvisioning(ctx, "", identityID, "rejected", err.Error())
		return domain.Claims{}, err
	}

	var (
		claims  domain.Claims
		created bool
	)
	err = s.deps.Breaker.Execute(func() error {
		var werr error
		claims, created, werr = s.deps.Claims.Assign(ctx, a)
		return werr
	}, nil)
	if err != nil {
		s.logger.Error("provisioning write failed",
			slog.String("identity_id", identityID),
			slog.String("tenant_id", a.Claims.TenantID),
			slog.String("error", err.Error()),
		)
		s.deps.Audit.LogProvisioning(ctx, a.Claims.TenantID, identityID, "failed", err.Error())
		return domain.Claims{}, fmt.Errorf("%w: %v", domain.ErrProvisioningFailed, err)
	}

	if !created {
		s.logger.Info("identity already provisioned", slog.String("identity_id", identityID))
		return claims, nil
	}

	s.logger.Info("identity provisioned",
		slog.String("identity_id", identityID),
		slog.String("tenant_id", claims.TenantID),
		slog.String("role", string(claims.Role)),
	)
	s.deps.Audit.LogProvisioning(ctx, claims.TenantID, identityID, "success", "")
	s.publishCredentialChange(ctx, identityID, claims)
	return claims, nil
}

func (s *ProvisioningService) buildAssignment(ctx context.Context, identityID string) (domain.Assignment, error) {
	now := s.now().UTC()

	if tenantID := s.policy.DefaultTenantID; tenantID != "" {
		// The first identity of a missing default tenant creates and owns it.
		return domain.Assignment{
			IdentityID: identityID,
			Tenant: &domain.Tenant{
				ID: tenantID, Name: tenantID, CreatedAt: now, UpdatedAt: now, IsActive: true,
			},
			Claims:   domain.Claims{TenantID: tenantID, Role: domain.RoleOwner},
			JoinRole: s.policy.DefaultMemberRole,
		}, nil
	}

	if s.deps.Flags.Enabled(featureflags.DisableTenantCreation) {
		return domain.Assignment{}, fmt.Errorf("%w: tenant creation disabled and no default tenant configured", domain.ErrAssignmentUnavailable)
	}

	tenant := &domain.Tenant{
		ID:        uuid.NewString(),
		Name:      s.storeName(ctx, identityID),
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
	}
	return domain.Assignment{
		IdentityID: identityID,
		Tenant:     tenant,
		Claims:     domain.Claims{TenantID: tenant.ID, Role: domain.RoleOwner},
		JoinRole:   domain.RoleOwner,
	}, nil
}

func (s *ProvisioningService) storeName(ctx context.Context, identityID string) string {
	if s.deps.Users == nil {
		return "New store"
	}
	u, err := s.deps.Users.GetByID(ctx, identityID)
	if err != nil {
		return "New store"
	}
	name := u.DisplayName
	if name == "" {
		name, _, _ = strings.Cut(u.Email, "@")
	}
	return name + "'s store"
}

// SetClaims overwrites identityID's own claims. The tenant must exist and the
// identity must already hold a membership there whose role is at least the
// requested one.
func (s *ProvisioningService) SetClaims(ctx context.Context, identityID string, claims domain.Claims) (domain.Claims, error) {
	if identityID == "" {
		return domain.Claims{}, domain.ErrUnauthorized
	}
	if err := claims.Validate(); err != nil {
		return domain.Claims{}, err
	}

	if _, err := s.deps.Tenants.GetByID(ctx, claims.TenantID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Claims{}, fmt.Errorf("%w: unknown tenant %q", domain.ErrInvalidClaims, claims.TenantID)
		}
		return domain.Claims{}, err
	}

	m, err := s.deps.Memberships.Get(ctx, identityID, claims.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.deps.Audit.LogDenied(ctx, claims.TenantID, identityID, "set-claims without membership")
			return domain.Claims{}, fmt.Errorf("%w: no membership in tenant", domain.ErrForbidden)
		}
		return domain.Claims{}, err
	}
	if err := s.deps.Authz.ValidateRoleGrant(m.Role, claims.Role); err != nil {
		s.deps.Audit.LogDenied(ctx, claims.TenantID, identityID, "set-claims role escalation")
		return domain.Claims{}, err
	}

	err = s.deps.Breaker.Execute(func() error {
		return s.deps.Claims.Put(ctx, identityID, claims)
	}, nil)
	if err != nil {
		s.deps.Audit.LogClaimsWrite(ctx, claims.TenantID, identityID, "failed", err.Error())
		return domain.Claims{}, fmt.Errorf("write claims: %w", err)
	}

	s.deps.Audit.LogClaimsWrite(ctx, claims.TenantID, identityID, "success", string(claims.Role))
	s.publishCredentialChange(ctx, identityID, claims)
	return claims, nil
}

// publishCredentialChange is best effort; clients also refresh on their own schedule.
func (s *ProvisioningService) publishCredentialChange(ctx context.Context, identityID string, c domain.Claims) {
	if s.deps.Bus == nil {
		return
	}
	evt := domain.CredentialChanged{IdentityID: identityID, TenantID: c.TenantID, Role: c.Role, At: s.now().UTC()}
	if err := events.PublishJSON(ctx, s.deps.Bus, domain.CredentialSubject(identityID), evt); err != nil {
		metrics.ObserveEvent("credential_changed", "error")
		s.logger.Warn("failed to publish credential change",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.ObserveEvent("credential_changed", "ok")
}
