package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/pkg/database"
)

// testDB connects to the database named by TEST_DATABASE_URL or skips.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("requires TEST_DATABASE_URL")
	}
	if err := database.RunMigrations(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresClaimsAssignIsIdempotent(t *testing.T) {
	db := testDB(t)
	store := NewPostgresClaimsStore(db, nil)
	tenants := NewPostgresTenantRepository(db, nil)
	ctx := context.Background()

	identity := "it-" + uuid.NewString()
	tenantID := uuid.NewString()
	a := domain.Assignment{
		IdentityID: identity,
		Tenant:     &domain.Tenant{ID: tenantID, Name: "Test store"},
		Claims:     domain.Claims{TenantID: tenantID, Role: domain.RoleOwner},
	}

	c, created, err := store.Assign(ctx, a)
	if err != nil || !created || c.Role != domain.RoleOwner {
		t.Fatalf("first assign: %+v created=%v err=%v", c, created, err)
	}

	second := a
	second.Tenant = &domain.Tenant{ID: uuid.NewString(), Name: "Other"}
	second.Claims.TenantID = second.Tenant.ID
	c2, created, err := store.Assign(ctx, second)
	if err != nil || created || c2.TenantID != tenantID {
		t.Fatalf("second assign must return existing claims: %+v created=%v err=%v", c2, created, err)
	}
	if _, err := tenants.GetByID(ctx, second.Tenant.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected rolled back tenant to be absent, got %v", err)
	}

	ents, err := tenants.ListEntitlements(ctx, identity)
	if err != nil || len(ents) != 1 || ents[0].Tenant.ID != tenantID || ents[0].Role != domain.RoleOwner {
		t.Fatalf("unexpected entitlements: %+v %v", ents, err)
	}
}

func TestPostgresUserRepository(t *testing.T) {
	db := testDB(t)
	repo := NewPostgresUserRepository(db, nil)
	ctx := context.Background()

	email := uuid.NewString() + "@example.com"
	u := &domain.User{Email: email, DisplayName: "Ana", PasswordHash: "x", IsActive: true}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, &domain.User{Email: email, PasswordHash: "y"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected duplicate email conflict, got %v", err)
	}
	got, err := repo.GetByEmail(ctx, email)
	if err != nil || got.ID != u.ID {
		t.Fatalf("get by email: %+v %v", got, err)
	}
	if _, err := repo.GetByID(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresClaimsPutLeavesMembership(t *testing.T) {
	db := testDB(t)
	store := NewPostgresClaimsStore(db, nil)
	tenants := NewPostgresTenantRepository(db, nil)
	ctx := context.Background()

	identity := "it-" + uuid.NewString()
	tenantID := uuid.NewString()
	_, _, err := store.Assign(ctx, domain.Assignment{
		IdentityID: identity,
		Tenant:     &domain.Tenant{ID: tenantID, Name: "Test store"},
		Claims:     domain.Claims{TenantID: tenantID, Role: domain.RoleOwner},
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := store.Put(ctx, identity, domain.Claims{TenantID: tenantID, Role: domain.RoleDriver}); err != nil {
		t.Fatalf("put: %v", err)
	}
	c, err := store.Get(ctx, identity)
	if err != nil || c.Role != domain.RoleDriver {
		t.Fatalf("expected driver claims, got %+v %v", c, err)
	}
	m, err := tenants.Get(ctx, identity, tenantID)
	if err != nil || m.Role != domain.RoleOwner {
		t.Fatalf("membership must stay owner, got %+v %v", m, err)
	}
}
