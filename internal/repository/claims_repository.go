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

// PostgresClaimsStore implements domain.ClaimsStore using PostgreSQL.
// The identity_claims primary key is the provisioning idempotency boundary.
type PostgresClaimsStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.ClaimsStore = (*PostgresClaimsStore)(nil)

// NewPostgresClaimsStore creates a new claims store
func NewPostgresClaimsStore(db *sql.DB, logger *slog.Logger) *PostgresClaimsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresClaimsStore{db: db, logger: logger}
}

// Get returns the claims of an identity
func (r *PostgresClaimsStore) Get(ctx context.Context, identityID string) (domain.Claims, error) {
	var c domain.Claims
	var role string
	query := `
		SELECT tenant_id, role
		FROM identity_claims
		WHERE identity_id = $1
	`
	err := r.db.QueryRowContext(ctx, query, identityID).Scan(&c.TenantID, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Claims{}, domain.ErrNotFound
		}
		return domain.Claims{}, fmt.Errorf("failed to get claims: %w", err)
	}
	c.Role = domain.Role(role)
	return c, nil
}

// Assign creates the tenant (if requested), the claims row and the membership
// in one transaction. If the identity already has claims nothing is written.
func (r *PostgresClaimsStore) Assign(ctx context.Context, a domain.Assignment) (domain.Claims, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claims{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	claims := a.Claims
	if a.Tenant != nil {
		settings, err := json.Marshal(a.Tenant.Settings)
		if err != nil {
			return domain.Claims{}, false, fmt.Errorf("failed to encode tenant settings: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tenants (id, name, settings, is_active)
			VALUES ($1, $2, $3, TRUE)
			ON CONFLICT (id) DO NOTHING
		`, a.Tenant.ID, a.Tenant.Name, settings)
		if err != nil {
			return domain.Claims{}, false, fmt.Errorf("failed to create tenant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 && a.JoinRole != "" {
			// someone else created the tenant first; join instead of owning it
			claims.Role = a.JoinRole
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO identity_claims (identity_id, tenant_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id) DO NOTHING
	`, a.IdentityID, claims.TenantID, string(claims.Role))
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return domain.Claims{}, false, fmt.Errorf("%w: tenant %s", domain.ErrNotFound, claims.TenantID)
		}
		return domain.Claims{}, false, fmt.Errorf("failed to insert claims: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		existing, err := r.Get(ctx, a.IdentityID)
		if err != nil {
			return domain.Claims{}, false, err
		}
		return existing, false, nil
	}

	if err := upsertMembership(ctx, tx, a.IdentityID, claims); err != nil {
		return domain.Claims{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claims{}, false, fmt.Errorf("failed to commit claims: %w", err)
	}

	r.logger.Info("claims assigned",
		slog.String("identity_id", a.IdentityID),
		slog.String("tenant_id", claims.TenantID),
		slog.String("role", string(claims.Role)),
	)
	return claims, true, nil
}

// Put overwrites the claims row of an identity. Memberships are the grant
// ceiling and are left as they are, so a lowered claim can be raised again.
func (r *PostgresClaimsStore) Put(ctx context.Context, identityID string, c domain.Claims) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identity_claims (identity_id, tenant_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id, role = EXCLUDED.role, updated_at = now()
	`, identityID, c.TenantID, string(c.Role))
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return fmt.Errorf("%w: tenant %s", domain.ErrNotFound, c.TenantID)
		}
		return fmt.Errorf("failed to store claims: %w", err)
	}
	return nil
}

func upsertMembership(ctx context.Context, tx *sql.Tx, identityID string, c domain.Claims) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (identity_id, tenant_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id, tenant_id) DO UPDATE SET role = EXCLUDED.role
	`, identityID, c.TenantID, string(c.Role))
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}
