package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Gateway states announced on the status topic.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Status reasons.
const (
	reasonUnexpected = "unexpected_disconnect"
	reasonShutdown   = "graceful_shutdown"
)

// GatewayStatus is the retained document on the system status topic.
// Consumers read State for liveness and the counters for ingest progress.
type GatewayStatus struct {
	State         string        `json:"state"`
	ClientID      string        `json:"client_id"`
	Version       string        `json:"version,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds,omitempty"`
	Ingest        *IngestStatus `json:"ingest,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// IngestStatus carries value ingest counters since start.
type IngestStatus struct {
	Topic           string `json:"topic"`
	Messages        uint64 `json:"messages"`
	MessagesDropped uint64 `json:"messages_dropped"`
	Points          uint64 `json:"points"`
	PointsDropped   uint64 `json:"points_dropped"`
}

// PublishStatus publishes status, retained, on the system status topic.
// Identity fields the client knows (client id, version, start time, uptime)
// are filled in when empty.
func (c *Client) PublishStatus(ctx context.Context, status GatewayStatus) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(c.identify(status))
	if err != nil {
		return fmt.Errorf("%w: encoding status: %w", ErrPublishFailed, err)
	}

	token := c.client.Publish(Topics{}.SystemStatus(), c.statusQoS(), true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	case <-time.After(defaultOperationTimeout):
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// identify stamps the client's identity onto status.
func (c *Client) identify(status GatewayStatus) GatewayStatus {
	now := c.now()
	if status.ClientID == "" {
		status.ClientID = c.cfg.Broker.ClientID
	}
	if status.Version == "" {
		status.Version = c.version
	}
	if status.State == StateOnline {
		if status.StartedAt == nil {
			started := c.startedAt
			status.StartedAt = &started
		}
		status.UptimeSeconds = int64(now.Sub(*status.StartedAt).Seconds())
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = now
	}
	status.Timestamp = status.Timestamp.UTC()
	return status
}

// offlineWill builds the last will published by the broker if the gateway
// vanishes without closing.
func offlineWill(clientID, version string, now time.Time) []byte {
	data, err := json.Marshal(GatewayStatus{
		State:     StateOffline,
		ClientID:  clientID,
		Version:   version,
		Reason:    reasonUnexpected,
		Timestamp: now.UTC(),
	})
	if err != nil {
		return nil
	}
	return data
}
