package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

// defaultTokenTTL applies when GenerateTenantToken is given no TTL.
const defaultTokenTTL = 15 * time.Minute

// TenantClaims extends the registered claims with the caller's tenant.
type TenantClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// GenerateTenantToken signs a token for tenantID. subject is optional and
// identifies the user or service the token was issued to.
func GenerateTenantToken(tenantID, subject, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrSecretRequired
	}
	if !point.ValidTenant(tenantID) {
		return "", fmt.Errorf("%w: tenant %q", ErrTokenInvalid, tenantID)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := TenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TenantID: tenantID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing tenant token: %w", err)
	}
	return signed, nil
}

// ParseTenantToken verifies a token and returns its claims. Only HS256 is
// accepted and the tenant claim must be a valid tenant id.
func ParseTenantToken(tokenString, secret string) (*TenantClaims, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}

	token, err := jwt.ParseWithClaims(tokenString, &TenantClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*TenantClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if !point.ValidTenant(claims.TenantID) {
		return nil, fmt.Errorf("%w: missing or malformed tenant_id", ErrTokenInvalid)
	}
	return claims, nil
}
