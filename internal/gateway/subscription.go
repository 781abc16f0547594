package gateway

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// ParseStatus validates a status filter. Empty matches every status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusActive, StatusExpired:
		return Status(s), nil
	}
	return "", invalid("status must be active or expired; got %q", s)
}

// Subscription is a tenant's standing interest in a fixed key set.
type Subscription struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Keys             []string   `json:"keys"`
	TotalKeys        int        `json:"total_keys"`
	UpdateIntervalMs int        `json:"update_interval_ms"`
	CallbackURL      string     `json:"callback_url,omitempty"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	LastPolledAt     *time.Time `json:"last_polled_at"`
}

// expired reports whether s is past its expiry at now.
func (s *Subscription) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// refreshStatus recomputes Status from ExpiresAt.
func (s *Subscription) refreshStatus(now time.Time) {
	if s.expired(now) {
		s.Status = StatusExpired
	} else {
		s.Status = StatusActive
	}
}

const (
	subscriptionPrefix = "sub_"
	subscriptionHexLen = 32
)

// NewSubscriptionID returns "sub_{tenant}_{32 hex}".
func NewSubscriptionID(tenantID string) string {
	u := uuid.New()
	return subscriptionPrefix + tenantID + "_" + hex.EncodeToString(u[:])
}

// TenantOfSubscription extracts the tenant fragment of a subscription id.
// The tenant may itself contain '_', so the random suffix is taken from the
// end.
func TenantOfSubscription(id string) (string, error) {
	rest, ok := strings.CutPrefix(id, subscriptionPrefix)
	if !ok || len(rest) < subscriptionHexLen+2 {
		return "", invalid("subscription id %q is malformed", id)
	}

	sep := len(rest) - subscriptionHexLen - 1
	if rest[sep] != '_' {
		return "", invalid("subscription id %q is malformed", id)
	}
	suffix := rest[sep+1:]
	if _, err := hex.DecodeString(suffix); err != nil || strings.ToLower(suffix) != suffix {
		return "", invalid("subscription id %q is malformed", id)
	}

	tenantID := rest[:sep]
	if !point.ValidTenant(tenantID) {
		return "", invalid("subscription id %q is malformed", id)
	}
	return tenantID, nil
}
