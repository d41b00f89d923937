package domain

import (
	"encoding/json"
	"time"
)

// Collections owned by a tenant. Every record lives under its tenant's namespace.
const (
	CollectionOrders       = "orders"
	CollectionClients      = "clients"
	CollectionDrivers      = "drivers"
	CollectionVehicles     = "vehicles"
	CollectionAddresses    = "addresses"
	CollectionOrigins      = "origins"
	CollectionDestinations = "destinations"
	CollectionPixKeys      = "pixKeys"
)

var recordCollections = map[string]bool{
	CollectionClients:      true,
	CollectionDrivers:      true,
	CollectionVehicles:     true,
	CollectionAddresses:    true,
	CollectionOrigins:      true,
	CollectionDestinations: true,
	CollectionPixKeys:      true,
}

// IsRecordCollection reports whether name is a free-form tenant collection.
// Orders are excluded, they go through the lifecycle engine.
func IsRecordCollection(name string) bool {
	return recordCollections[name]
}

// Record is a tenant-owned document of one of the free-form collections.
type Record struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
	CreatedBy  string          `json:"createdBy,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
