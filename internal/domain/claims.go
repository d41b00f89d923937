package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role is the authorization role an identity holds inside a tenant.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleDriver     Role = "driver"
)

var roleRank = map[Role]int{
	RoleDriver:     1,
	RoleDispatcher: 2,
	RoleAdmin:      3,
	RoleOwner:      4,
}

// ParseRole normalises s and rejects unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, s)
	}
	return r, nil
}

// Rank orders roles by privilege. Unknown roles rank zero.
func (r Role) Rank() int {
	return roleRank[r]
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Claims is the authorization mapping attached to an identity.
// A token instance carries either a complete Claims value or none at all.
type Claims struct {
	TenantID string `json:"tenantId"`
	Role     Role   `json:"role"`
}

// Validate rejects partially populated claims and unknown roles.
func (c Claims) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("%w: tenantId is required", ErrInvalidClaims)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, c.Role)
	}
	return nil
}

// VerifiedToken is the result of verifying a bearer credential.
// Claims is nil when the identity has not been provisioned yet.
type VerifiedToken struct {
	IdentityID string    `json:"identityId"`
	Email      string    `json:"email,omitempty"`
	Claims     *Claims   `json:"claims,omitempty"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Provisioned reports whether the token carries authorization claims.
func (v *VerifiedToken) Provisioned() bool {
	return v != nil && v.Claims != nil
}

// Assignment describes a first-login claims write.
// Tenant is set when the assignment creates the tenant it points at;
// JoinRole replaces Claims.Role if that tenant turns out to exist already.
type Assignment struct {
	IdentityID string
	Tenant     *Tenant
	Claims     Claims
	JoinRole   Role
}

// ClaimsStore persists the identity to claims mapping.
type ClaimsStore interface {
	// Get returns ErrNotFound when the identity has no claims.
	Get(ctx context.Context, identityID string) (Claims, error)
	// Assign writes tenant, membership and claims in one atomic unit, but only
	// if the identity has no claims yet. It returns the stored claims and
	// whether this call created them.
	Assign(ctx context.Context, a Assignment) (Claims, bool, error)
	// Put overwrites the identity's claims. Memberships are not touched.
	Put(ctx context.Context, identityID string, c Claims) error
}
