package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/logger"
)

// Logger writes structured audit records next to the application log.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l.With(slog.String("channel", "audit"))}
}

func (al *Logger) LogAction(ctx context.Context, tenantID, identityID, action, resource, resourceID, status, details string) {
	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("tenant_id", tenantID),
		slog.String("identity_id", identityID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", logger.RequestID(ctx)),
		slog.Time("timestamp", time.Now()),
	)
}

func (al *Logger) LogProvisioning(ctx context.Context, tenantID, identityID, status, details string) {
	al.LogAction(ctx, tenantID, identityID, "provision", "claims", identityID, status, details)
}

func (al *Logger) LogClaimsWrite(ctx context.Context, tenantID, identityID, status, details string) {
	al.LogAction(ctx, tenantID, identityID, "set_claims", "claims", identityID, status, details)
}

func (al *Logger) LogTransition(ctx context.Context, tenantID, identityID, orderID, status, details string) {
	al.LogAction(ctx, tenantID, identityID, "transition", "order", orderID, status, details)
}

func (al *Logger) LogDenied(ctx context.Context, tenantID, identityID, reason string) {
	al.LogAction(ctx, tenantID, identityID, "access_denied", "api", "", "denied", reason)
}
