package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// PostgresTenantRepository implements domain.TenantRepository and
// domain.MembershipRepository using PostgreSQL
type PostgresTenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ domain.TenantRepository     = (*PostgresTenantRepository)(nil)
	_ domain.MembershipRepository = (*PostgresTenantRepository)(nil)
)

// NewPostgresTenantRepository creates a new tenant repository
func NewPostgresTenantRepository(db *sql.DB, logger *slog.Logger) *PostgresTenantRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTenantRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner, t *domain.Tenant) error {
	var settings []byte
	if err := row.Scan(&t.ID, &t.Name, &settings, &t.CreatedAt, &t.UpdatedAt, &t.IsActive); err != nil {
		return err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return fmt.Errorf("failed to decode tenant settings: %w", err)
		}
	}
	return nil
}

// Create inserts a tenant with a caller-chosen id
func (r *PostgresTenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	settings, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode tenant settings: %w", err)
	}
	query := `
		INSERT INTO tenants (id, name, settings, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, tenant.ID, tenant.Name, settings, tenant.IsActive).Scan(
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return fmt.Errorf("%w: tenant %s exists", domain.ErrConflict, tenant.ID)
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *PostgresTenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	query := `
		SELECT id, name, settings, created_at, updated_at, is_active
		FROM tenants
		WHERE id = $1
	`
	if err := scanTenant(r.db.QueryRowContext(ctx, query, id), t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: tenant %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// UpdateSettings replaces the settings sub-record of a tenant
func (r *PostgresTenantRepository) UpdateSettings(ctx context.Context, id string, settings domain.TenantSettings) (*domain.Tenant, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tenant settings: %w", err)
	}
	t := &domain.Tenant{}
	query := `
		UPDATE tenants
		SET settings = $1, updated_at = now()
		WHERE id = $2
		RETURNING id, name, settings, created_at, updated_at, is_active
	`
	if err := scanTenant(r.db.QueryRowContext(ctx, query, data, id), t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: tenant %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to update tenant settings: %w", err)
	}
	return t, nil
}

// List returns all active tenants
func (r *PostgresTenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	query := `
		SELECT id, name, settings, created_at, updated_at, is_active
		FROM tenants
		WHERE is_active
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*domain.Tenant
	for rows.Next() {
		t := &domain.Tenant{}
		if err := scanTenant(rows, t); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns the membership of an identity in a tenant
func (r *PostgresTenantRepository) Get(ctx context.Context, identityID, tenantID string) (*domain.Membership, error) {
	m := &domain.Membership{}
	var role string
	query := `
		SELECT m.identity_id, m.tenant_id, m.role, m.created_at
		FROM memberships m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.identity_id = $1 AND m.tenant_id = $2 AND t.is_active
	`
	err := r.db.QueryRowContext(ctx, query, identityID, tenantID).Scan(&m.IdentityID, &m.TenantID, &role, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: membership", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	m.Role = domain.Role(role)
	return m, nil
}

// ListEntitlements returns every active tenant the identity holds a membership in
func (r *PostgresTenantRepository) ListEntitlements(ctx context.Context, identityID string) ([]domain.Entitlement, error) {
	query := `
		SELECT t.id, t.name, t.settings, t.created_at, t.updated_at, t.is_active, m.role
		FROM memberships m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.identity_id = $1 AND t.is_active
		ORDER BY t.name
	`
	rows, err := r.db.QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		var e domain.Entitlement
		var settings []byte
		var role string
		if err := rows.Scan(&e.Tenant.ID, &e.Tenant.Name, &settings, &e.Tenant.CreatedAt, &e.Tenant.UpdatedAt, &e.Tenant.IsActive, &role); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &e.Tenant.Settings); err != nil {
				return nil, fmt.Errorf("failed to decode tenant settings: %w", err)
			}
		}
		e.Role = domain.Role(role)
		out = append(out, e)
	}
	return out, rows.Err()
}
