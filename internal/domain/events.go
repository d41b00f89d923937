package domain

import (
	"context"
	"encoding/json"
	"time"
)

// CredentialChanged is published whenever an identity's claims are written.
// Clients react by force-refreshing their token.
type CredentialChanged struct {
	IdentityID string    `json:"identityId"`
	TenantID   string    `json:"tenantId"`
	Role       Role      `json:"role"`
	At         time.Time `json:"at"`
}

// OrderTransitioned is published after a status change has been committed.
type OrderTransitioned struct {
	OrderID  string      `json:"orderId"`
	TenantID string      `json:"tenantId"`
	From     OrderStatus `json:"from"`
	To       OrderStatus `json:"to"`
	By       string      `json:"by,omitempty"`
	At       time.Time   `json:"at"`
}

// CredentialSubject is the bus subject carrying an identity's credential changes.
func CredentialSubject(identityID string) string {
	return "identities." + identityID + ".credentials"
}

// OrderSubject is the bus subject carrying a tenant's order transitions.
func OrderSubject(tenantID string) string {
	return "tenants." + tenantID + ".orders"
}

// EventBus fans out domain events. Delivery is at-most-once.
type EventBus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(subject string, handler func(subject string, payload []byte)) (unsubscribe func(), err error)
	Close() error
}

// Event kinds carried in an EventEnvelope.
const (
	EventCredentialChanged = "credential_changed"
	EventOrderTransitioned = "order_transitioned"
)

// EventEnvelope is the frame pushed to live subscribers.
type EventEnvelope struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}
