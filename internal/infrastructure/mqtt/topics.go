package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes.
const (
	// TopicPrefixValues is the root of the collector's value topics.
	TopicPrefixValues = "pulseone"

	// TopicPrefixSystem is the root of the gateway's own topics.
	TopicPrefixSystem = "pulsegw/system"
)

// Topics provides builders for the topics the gateway uses.
//
//	topics := mqtt.Topics{}
//	topics.DeviceValues("acme", 7) // "pulseone/acme/values/7"
type Topics struct{}

// DeviceValues returns the topic a device's value batches are published on.
func (Topics) DeviceValues(tenantID string, deviceID int64) string {
	return fmt.Sprintf("%s/%s/values/%d", TopicPrefixValues, tenantID, deviceID)
}

// TenantValues returns a wildcard matching every device of one tenant.
func (Topics) TenantValues(tenantID string) string {
	return fmt.Sprintf("%s/%s/values/+", TopicPrefixValues, tenantID)
}

// AllDeviceValues returns a wildcard matching every device of every tenant.
func (Topics) AllDeviceValues() string {
	return TopicPrefixValues + "/+/values/+"
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ParseValueTopic extracts the tenant and device id from a value topic.
func ParseValueTopic(topic string) (tenantID string, deviceID int64, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefixValues || parts[2] != "values" || parts[1] == "" {
		return "", 0, fmt.Errorf("%w: %q is not a value topic", ErrInvalidTopic, topic)
	}

	deviceID, err = strconv.ParseInt(parts[3], 10, 64)
	if err != nil || deviceID <= 0 {
		return "", 0, fmt.Errorf("%w: %q has no device id", ErrInvalidTopic, topic)
	}
	return parts[1], deviceID, nil
}
