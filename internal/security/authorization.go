package security

import (
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// Permission represents an action permission
type Permission string

const (
	PermReadOrders       Permission = "read_orders"
	PermCreateOrders     Permission = "create_orders"
	PermTransitionOrders Permission = "transition_orders"
	PermReadRecords      Permission = "read_records"
	PermManageRecords    Permission = "manage_records"
	PermManageTenant     Permission = "manage_tenant"
	PermAssignClaims     Permission = "assign_claims"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[domain.Role][]Permission{
	domain.RoleOwner: {
		PermReadOrders,
		PermCreateOrders,
		PermTransitionOrders,
		PermReadRecords,
		PermManageRecords,
		PermManageTenant,
		PermAssignClaims,
	},
	domain.RoleAdmin: {
		PermReadOrders,
		PermCreateOrders,
		PermTransitionOrders,
		PermReadRecords,
		PermManageRecords,
		PermManageTenant,
	},
	domain.RoleDispatcher: {
		PermReadOrders,
		PermCreateOrders,
		PermTransitionOrders,
		PermReadRecords,
		PermManageRecords,
	},
	domain.RoleDriver: {
		PermReadOrders,
		PermTransitionOrders,
		PermReadRecords,
	},
}

// AuthorizationService handles authorization checks
type AuthorizationService struct {
	logger *slog.Logger
}

// NewAuthorizationService creates a new authorization service
func NewAuthorizationService(logger *slog.Logger) *AuthorizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationService{
		logger: logger,
	}
}

// HasPermission checks if a role has a specific permission
func (as *AuthorizationService) HasPermission(role domain.Role, permission Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// ValidatePermission validates that a role has a specific permission
func (as *AuthorizationService) ValidatePermission(role domain.Role, permission Permission) error {
	if !as.HasPermission(role, permission) {
		as.logger.Warn("permission denied",
			slog.String("role", string(role)),
			slog.String("permission", string(permission)),
		)
		return fmt.Errorf("%w: %s role cannot %s", domain.ErrForbidden, role, permission)
	}
	return nil
}

// GetRolePermissions returns all permissions for a role
func (as *AuthorizationService) GetRolePermissions(role domain.Role) []Permission {
	return RolePermissions[role]
}

// ValidateTenantAccess checks that the acting tenant is the requested one
func (as *AuthorizationService) ValidateTenantAccess(actingTenantID, requestedTenantID string) error {
	if actingTenantID == "" || actingTenantID != requestedTenantID {
		as.logger.Warn("tenant access denied",
			slog.String("tenant_id", actingTenantID),
			slog.String("requested_tenant", requestedTenantID),
		)
		return fmt.Errorf("%w: tenant mismatch", domain.ErrForbidden)
	}
	return nil
}

// ValidateRoleGrant checks that a holder of granter may hand out requested.
func (as *AuthorizationService) ValidateRoleGrant(granter, requested domain.Role) error {
	if !requested.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidClaims, requested)
	}
	if requested.Rank() > granter.Rank() {
		as.logger.Warn("role escalation denied",
			slog.String("role", string(granter)),
			slog.String("requested_role", string(requested)),
		)
		return fmt.Errorf("%w: %s cannot grant %s", domain.ErrForbidden, granter, requested)
	}
	return nil
}
