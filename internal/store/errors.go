package store

import "errors"

// Domain-specific errors for the persistent tier.
var (
	// ErrPointNotFound is returned when a (device, point name) pair is not in the tenant's directory.
	ErrPointNotFound = errors.New("store: point not found")

	// ErrTenantRequired is returned when a query is issued without a tenant id.
	ErrTenantRequired = errors.New("store: tenant id is required")
)
