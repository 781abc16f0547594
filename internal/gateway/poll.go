package gateway

import (
	"context"
	"sort"
	"time"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

// PollResult is the answer to one poll.
type PollResult struct {
	SubscriptionID  string        `json:"subscription_id"`
	Updates         []point.Value `json:"updates"`
	TotalKeys       int           `json:"total_keys"`
	Since           time.Time     `json:"since"`
	ServerTime      time.Time     `json:"server_time"`
	MaxTimestamp    time.Time     `json:"max_timestamp"`
	NextPollAfterMs int           `json:"next_poll_after_ms"`
	Backfilled      bool          `json:"backfilled"`
}

// PollEngine answers change-since polls for subscriptions.
type PollEngine struct {
	registry *Registry
	cascade  *Cascade
	backfill int
	metrics  *Metrics
	logger   Logger
	now      func() time.Time
}

// NewPollEngine creates a poll engine. backfill is the number of values an
// otherwise empty poll may carry; 0 disables backfill.
func NewPollEngine(registry *Registry, cascade *Cascade, backfill int) *PollEngine {
	if backfill < 0 {
		backfill = 0
	}
	return &PollEngine{
		registry: registry,
		cascade:  cascade,
		backfill: backfill,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the poll engine.
func (p *PollEngine) SetLogger(logger Logger) {
	p.logger = logger
}

// SetMetrics attaches Prometheus collectors.
func (p *PollEngine) SetMetrics(m *Metrics) {
	p.metrics = m
}

// Poll returns the subscription's values with a timestamp strictly after
// since. A nil since means one update interval ago.
//
// MaxTimestamp is the newest changed timestamp (or since when nothing
// changed); passing it as the next since never re-delivers a value. When
// nothing changed, up to the configured number of the freshest values are
// returned instead, flagged Backfilled.
func (p *PollEngine) Poll(ctx context.Context, id, tenantID string, since *time.Time) (*PollResult, error) {
	sub, err := p.registry.Get(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	interval := time.Duration(sub.UpdateIntervalMs) * time.Millisecond
	cutoff := now.Add(-interval)
	if since != nil {
		cutoff = since.UTC()
	}

	values, err := p.cascade.Fetch(ctx, FetchRequest{
		TenantID: tenantID,
		Keys:     sub.Keys,
		Source:   ModeAuto,
	})
	if err != nil {
		return nil, err
	}

	result := &PollResult{
		SubscriptionID:  sub.ID,
		Updates:         make([]point.Value, 0, len(values)),
		TotalKeys:       sub.TotalKeys,
		Since:           cutoff,
		ServerTime:      now,
		MaxTimestamp:    cutoff,
		NextPollAfterMs: sub.UpdateIntervalMs,
	}
	for _, v := range values {
		if v.Timestamp.After(cutoff) {
			result.Updates = append(result.Updates, v)
			if v.Timestamp.After(result.MaxTimestamp) {
				result.MaxTimestamp = v.Timestamp
			}
		}
	}

	if len(result.Updates) == 0 && p.backfill > 0 && len(values) > 0 {
		result.Updates = freshest(values, p.backfill)
		result.Backfilled = true
	}

	if err := p.registry.Touch(ctx, sub, now); err != nil {
		p.logger.Warn("recording poll failed", "subscription_id", sub.ID, "error", err)
	}

	p.metrics.observePoll(result.Backfilled)
	p.logger.Debug("poll served",
		"subscription_id", sub.ID, "updates", len(result.Updates), "backfilled", result.Backfilled)
	return result, nil
}

// freshest returns up to n values with the newest timestamps, newest first.
func freshest(values []point.Value, n int) []point.Value {
	sorted := append([]point.Value(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
