package domain

import "errors"

var (
	// ErrInvalidToken is returned for malformed, expired or tampered credentials,
	// and for tokens carrying partial or unknown authorization claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnauthorized is returned when no verified identity is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an identity acts outside its tenant or role.
	ErrForbidden = errors.New("forbidden")
	// ErrProvisioningFailed is returned when claims could not be persisted.
	// The identity stays claim-less and provisioning is retried on the next bootstrap.
	ErrProvisioningFailed = errors.New("provisioning failed")
	// ErrIllegalTransition is returned for order status changes outside the lifecycle graph.
	ErrIllegalTransition = errors.New("illegal transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")

	ErrInvalidClaims         = errors.New("invalid claims")
	ErrInvalidStatus         = errors.New("invalid order status")
	ErrAssignmentUnavailable = errors.New("no tenant assignment available")
	// ErrEmptyTimeline marks an order whose status cannot be rebuilt.
	ErrEmptyTimeline = errors.New("order has an empty timeline")
)
