package gateway

import (
	"errors"
	"fmt"
)

// Gateway errors. The HTTP layer maps them to status codes with errors.Is:
//
//	ErrValidation          -> 400
//	ErrAccessDenied        -> 403
//	ErrNotFound            -> 404
//	ErrUpstreamUnavailable -> 503
var (
	// ErrValidation is returned when a request is malformed or out of bounds.
	ErrValidation = errors.New("gateway: validation failed")

	// ErrNotFound is returned when a subscription is absent or expired.
	ErrNotFound = errors.New("gateway: not found")

	// ErrAccessDenied is returned when a tenant addresses another tenant's subscription.
	ErrAccessDenied = errors.New("gateway: access denied")

	// ErrUpstreamUnavailable is returned when a pinned tier or the subscription store fails.
	ErrUpstreamUnavailable = errors.New("gateway: upstream unavailable")
)

// invalid builds an error wrapping ErrValidation.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
