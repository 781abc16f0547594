package point

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	separator     = ":"
	deviceSegment = "device"
	relativeHead  = deviceSegment + separator
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Key is the parsed form of a point value key.
type Key struct {
	TenantID  string
	DeviceID  int64
	PointName string
}

// String returns the canonical key. It assumes k is valid.
func (k Key) String() string {
	return DevicePrefix(k.TenantID, k.DeviceID) + k.PointName
}

// ValidTenant reports whether tenantID can be used in a key.
func ValidTenant(tenantID string) bool {
	return tenantPattern.MatchString(tenantID)
}

// ToKey builds the canonical key for a device point owned by tenantID.
func ToKey(tenantID string, deviceID int64, pointName string) (string, error) {
	if !ValidTenant(tenantID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	if deviceID <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidDevice, deviceID)
	}
	if pointName == "" {
		return "", ErrInvalidPointName
	}
	return Key{TenantID: tenantID, DeviceID: deviceID, PointName: pointName}.String(), nil
}

// ParseKey reverses ToKey.
func ParseKey(key string) (Key, error) {
	parts := strings.SplitN(key, separator, 4)
	if len(parts) != 4 || parts[1] != deviceSegment {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if !ValidTenant(parts[0]) {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidTenant, parts[0])
	}
	deviceID, err := parseDeviceID(parts[2])
	if err != nil {
		return Key{}, err
	}
	if parts[3] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidPointName, key)
	}
	return Key{TenantID: parts[0], DeviceID: deviceID, PointName: parts[3]}, nil
}

// Qualify turns a client supplied key into a canonical key of tenantID.
//
// Fully qualified keys are accepted only when they carry the same tenant.
// Anything else starting with "device:" is relative and gets the tenant
// prefix. A relative key never parses as a qualified one because its second
// segment is a device id, not "device".
func Qualify(tenantID, raw string) (Key, error) {
	if !ValidTenant(tenantID) {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	k, err := ParseKey(raw)
	if err != nil && strings.HasPrefix(raw, relativeHead) {
		raw = tenantID + separator + raw
		k, err = ParseKey(raw)
	}
	if err != nil {
		return Key{}, err
	}
	if k.TenantID != tenantID {
		return Key{}, fmt.Errorf("%w: %q", ErrForeignTenant, raw)
	}
	return k, nil
}

// DevicePrefix returns the prefix shared by every key of one device,
// including the trailing separator.
func DevicePrefix(tenantID string, deviceID int64) string {
	return TenantPrefix(tenantID) + strconv.FormatInt(deviceID, 10) + separator
}

// TenantPrefix returns the prefix shared by every point value key of a tenant.
func TenantPrefix(tenantID string) string {
	return tenantID + separator + deviceSegment + separator
}

// HasTenant reports whether key lies inside tenantID's namespace.
func HasTenant(key, tenantID string) bool {
	return ValidTenant(tenantID) && strings.HasPrefix(key, TenantPrefix(tenantID))
}

// parseDeviceID accepts only the canonical decimal form (no sign, no leading zero).
func parseDeviceID(s string) (int64, error) {
	if s == "" || s[0] < '1' || s[0] > '9' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDevice, s)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDevice, s)
	}
	return id, nil
}
