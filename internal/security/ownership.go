package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// OwnerLookup resolves the tenant that owns collection/id.
// It returns domain.ErrNotFound for unknown ids.
type OwnerLookup func(ctx context.Context, collection, id string) (string, error)

// OwnershipChecker decides whether a tenant may touch a specific record.
// A record owned by another tenant is Forbidden; a missing record is NotFound.
type OwnershipChecker struct {
	lookup OwnerLookup
	logger *slog.Logger
}

// NewOwnershipChecker creates a record-level checker
func NewOwnershipChecker(lookup OwnerLookup, logger *slog.Logger) *OwnershipChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnershipChecker{lookup: lookup, logger: logger}
}

// Check returns nil when requestingTenant owns collection/id.
func (c *OwnershipChecker) Check(ctx context.Context, requestingTenant, collection, id string) error {
	owner, err := c.lookup(ctx, collection, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", domain.ErrNotFound, collection, id)
		}
		return fmt.Errorf("failed to resolve owner: %w", err)
	}
	if owner != requestingTenant {
		c.logger.Warn("resource access denied",
			slog.String("tenant_id", requestingTenant),
			slog.String("collection", collection),
			slog.String("resource_id", id),
		)
		return fmt.Errorf("%w: %s %s belongs to another tenant", domain.ErrForbidden, collection, id)
	}
	return nil
}
