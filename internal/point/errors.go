package point

import "errors"

// Domain-specific errors for the key namespace.
var (
	// ErrInvalidTenant is returned when a tenant id is empty or not of the form [A-Za-z0-9_-]{1,64}.
	ErrInvalidTenant = errors.New("point: invalid tenant id")

	// ErrInvalidKey is returned when a key does not follow the namespace layout.
	ErrInvalidKey = errors.New("point: invalid key")

	// ErrInvalidDevice is returned when a device id is not a positive integer.
	ErrInvalidDevice = errors.New("point: invalid device id")

	// ErrInvalidPointName is returned when a point name is empty.
	ErrInvalidPointName = errors.New("point: invalid point name")

	// ErrForeignTenant is returned when a fully qualified key belongs to another tenant.
	ErrForeignTenant = errors.New("point: key belongs to another tenant")

	// ErrInvalidValue is returned when a raw value is not a number, boolean or string.
	ErrInvalidValue = errors.New("point: unsupported value type")
)
