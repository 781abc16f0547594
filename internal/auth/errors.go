package auth

import "errors"

var (
	// ErrTokenInvalid is returned for a token that fails signature or claim checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenExpired is returned for a token past its expiry.
	ErrTokenExpired = errors.New("auth: token has expired")

	// ErrSecretRequired is returned when signing or verifying without a secret.
	ErrSecretRequired = errors.New("auth: secret is required")
)
