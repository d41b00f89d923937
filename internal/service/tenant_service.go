package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/featureflags"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
)

// TenantService exposes tenant settings and the tenants an identity may act in.
type TenantService struct {
	tenants     domain.TenantRepository
	memberships domain.MembershipRepository
	records     RecordRepository
	flags       featureflags.Source
	logger      *slog.Logger
}

func NewTenantService(
	tenants domain.TenantRepository,
	memberships domain.MembershipRepository,
	records RecordRepository,
	flags featureflags.Source,
	logger *slog.Logger,
) *TenantService {
	if logger == nil {
		logger = slog.Default()
	}
	if flags == nil {
		flags = featureflags.Static{}
	}
	return &TenantService{tenants: tenants, memberships: memberships, records: records, flags: flags, logger: logger}
}

// Entitlements lists every tenant identityID holds a membership in.
func (s *TenantService) Entitlements(ctx context.Context, identityID string) ([]domain.Entitlement, error) {
	out, err := s.memberships.ListEntitlements(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	if out == nil {
		out = []domain.Entitlement{}
	}
	return out, nil
}

func (s *TenantService) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return s.tenants.GetByID(ctx, tenantID)
}

// UpdateSettings replaces the tenant's settings sub-record.
func (s *TenantService) UpdateSettings(ctx context.Context, tenantID string, settings domain.TenantSettings) (*domain.Tenant, error) {
	settings.Currency = strings.ToUpper(strings.TrimSpace(settings.Currency))
	if settings.Currency != "" && len(settings.Currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be an ISO 4217 code", domain.ErrInvalidClaims)
	}
	t, err := s.tenants.UpdateSettings(ctx, tenantID, settings)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tenant settings updated",
		slog.String("tenant_id", tenantID),
		slog.Bool("public_pix_keys", settings.PublicPixKeys),
	)
	return t, nil
}

// PublicPixKeys returns the tenant's payment keys for the public sharing
// page. Tenants that did not opt in look like unknown tenants.
func (s *TenantService) PublicPixKeys(ctx context.Context, tenantID string) (*domain.Tenant, []*domain.Record, error) {
	if !s.flags.Enabled(featureflags.PublicPixKeys) {
		return nil, nil, domain.ErrNotFound
	}
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if !t.IsActive || !t.Settings.PublicPixKeys {
		return nil, nil, domain.ErrNotFound
	}
	scope, err := store.NewScope(tenantID)
	if err != nil {
		return nil, nil, domain.ErrNotFound
	}
	keys, err := s.records.List(ctx, scope, domain.CollectionPixKeys)
	if err != nil {
		return nil, nil, err
	}
	return t, keys, nil
}
