package domain

import (
	"context"
	"time"
)

// Tenant represents a store (company) that owns logistics records.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Settings  TenantSettings `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	IsActive  bool           `json:"isActive"`
}

// TenantSettings is the per-tenant configuration sub-record.
type TenantSettings struct {
	Currency      string `json:"currency,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	PublicPixKeys bool   `json:"publicPixKeys"`
}

// Membership grants an identity a role inside a tenant.
type Membership struct {
	IdentityID string    `json:"identityId"`
	TenantID   string    `json:"tenantId"`
	Role       Role      `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Entitlement is a tenant an identity may act in, with its role there.
type Entitlement struct {
	Tenant Tenant `json:"tenant"`
	Role   Role   `json:"role"`
}

// TenantRepository defines data access for tenants
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*Tenant, error)
	UpdateSettings(ctx context.Context, id string, settings TenantSettings) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
}

// MembershipRepository resolves which tenants an identity is entitled to.
type MembershipRepository interface {
	Get(ctx context.Context, identityID, tenantID string) (*Membership, error)
	ListEntitlements(ctx context.Context, identityID string) ([]Entitlement, error)
}
