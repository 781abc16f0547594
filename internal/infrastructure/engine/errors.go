package engine

import "errors"

var (
	// ErrDisabled is returned by New when the engine probe is disabled.
	ErrDisabled = errors.New("engine: disabled in configuration")

	// ErrInvalidURL indicates the configured engine URL cannot be used.
	ErrInvalidURL = errors.New("engine: invalid url")

	// ErrUnhealthy indicates the health endpoint answered with a non-2xx status.
	ErrUnhealthy = errors.New("engine: health endpoint returned error status")

	// ErrMalformedResponse indicates the health body could not be decoded.
	ErrMalformedResponse = errors.New("engine: malformed health response")
)
