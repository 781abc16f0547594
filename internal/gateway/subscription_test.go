package gateway

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewSubscriptionID_RoundTrip(t *testing.T) {
	for _, tenant := range []string{"acme", "north_wing", "a-b_c"} {
		id := NewSubscriptionID(tenant)
		if !strings.HasPrefix(id, "sub_"+tenant+"_") {
			t.Errorf("NewSubscriptionID(%q) = %q", tenant, id)
		}
		got, err := TenantOfSubscription(id)
		if err != nil {
			t.Fatalf("TenantOfSubscription(%q) error = %v", id, err)
		}
		if got != tenant {
			t.Errorf("TenantOfSubscription(%q) = %q, want %q", id, got, tenant)
		}
	}

	if NewSubscriptionID("acme") == NewSubscriptionID("acme") {
		t.Error("NewSubscriptionID() returned the same id twice")
	}
}

func TestTenantOfSubscription_Malformed(t *testing.T) {
	hex32 := strings.Repeat("a1", 16)
	tests := []string{
		"",
		"acme_" + hex32,
		"sub_" + hex32,
		"sub_acme_" + hex32[:31],
		"sub_acme_" + strings.Repeat("zz", 16),
		"sub_acme_" + strings.ToUpper(hex32),
		"sub_acme-" + hex32,
		"sub_ac:me_" + hex32,
	}

	for _, id := range tests {
		if _, err := TenantOfSubscription(id); !errors.Is(err, ErrValidation) {
			t.Errorf("TenantOfSubscription(%q) error = %v, want ErrValidation", id, err)
		}
	}
}

func TestSubscription_RefreshStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := &Subscription{Status: StatusActive, ExpiresAt: now.Add(time.Minute)}

	sub.refreshStatus(now)
	if sub.Status != StatusActive {
		t.Errorf("Status = %s before expiry, want active", sub.Status)
	}

	sub.refreshStatus(now.Add(time.Minute))
	if sub.Status != StatusExpired {
		t.Errorf("Status = %s at expiry, want expired", sub.Status)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"", "active", "expired"} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q) error = %v", s, err)
		}
	}
	if _, err := ParseStatus("paused"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseStatus(paused) error = %v, want ErrValidation", err)
	}
}
