package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

// Tier is one level of the retrieval cascade. Lookup returns the values it
// holds for keys; keys absent from the map are misses. A non-nil error
// means the tier could not be consulted at all.
type Tier interface {
	Source() point.Source
	Lookup(ctx context.Context, tenantID string, keys []point.Key) (map[string]point.Value, error)
}

// Mode selects which tiers a fetch may consult.
type Mode string

const (
	// ModeAuto walks every tier and synthesizes what is still missing.
	ModeAuto Mode = "auto"
	// ModeCache consults only the cache tier.
	ModeCache Mode = "cache"
	// ModeStore consults only the persistent tier.
	ModeStore Mode = "store"
)

// ParseMode validates a client supplied source. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeCache, ModeStore:
		return Mode(s), nil
	}
	return "", invalid("source must be one of auto, cache, store; got %q", s)
}

// Filters narrows a fetch result. Zero values match everything.
type Filters struct {
	Quality  point.Quality
	DataType point.DataType
}

func (f Filters) match(v point.Value) bool {
	if f.Quality != "" && v.Quality != f.Quality {
		return false
	}
	if f.DataType != "" && v.DataType != f.DataType {
		return false
	}
	return true
}

// FetchRequest describes one batch retrieval.
type FetchRequest struct {
	TenantID string
	Keys     []string
	Source   Mode
	Filters  Filters
}

// BreakerSettings configures the circuit breaker wrapped around each tier.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// CascadeConfig tunes the cascade.
type CascadeConfig struct {
	BatchLimit  int
	TierTimeout time.Duration
	// StaleAfter sends hits older than this to the next tier as well. 0 disables.
	StaleAfter time.Duration
	Breaker    BreakerSettings
}

// guardedTier pairs a tier with its circuit breaker.
type guardedTier struct {
	tier    Tier
	breaker *gobreaker.CircuitBreaker[map[string]point.Value]
}

// Cascade retrieves point values through an ordered chain of tiers ending
// in an optional synthesizer.
//
// For each key the newest value seen across tiers wins, regardless of tier
// order. Output follows request order with at most one value per key.
//
// Thread Safety:
//   - Fetch is safe for concurrent use. Breaker state is shared.
type Cascade struct {
	tiers   []guardedTier
	synth   Synthesizer
	cfg     CascadeConfig
	metrics *Metrics
	logger  Logger
	now     func() time.Time
}

// NewCascade creates a cascade over tiers, consulted in the given order.
// A nil synth disables synthesis.
func NewCascade(cfg CascadeConfig, synth Synthesizer, tiers ...Tier) *Cascade {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	if cfg.TierTimeout <= 0 {
		cfg.TierTimeout = 300 * time.Millisecond
	}

	c := &Cascade{
		synth:  synth,
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, t := range tiers {
		if t == nil {
			continue
		}
		c.tiers = append(c.tiers, guardedTier{tier: t, breaker: newBreaker(string(t.Source()), cfg.Breaker, c)})
	}
	return c
}

func newBreaker(name string, s BreakerSettings, c *Cascade) *gobreaker.CircuitBreaker[map[string]point.Value] {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[map[string]point.Value](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller abandoning its request says nothing about the tier.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("tier breaker state changed", "tier", name, "from", from.String(), "to", to.String())
		},
	})
}

// SetLogger sets the logger for the cascade.
func (c *Cascade) SetLogger(logger Logger) {
	c.logger = logger
}

// SetMetrics attaches Prometheus collectors.
func (c *Cascade) SetMetrics(m *Metrics) {
	c.metrics = m
}

// BatchLimit returns the maximum number of keys per fetch.
func (c *Cascade) BatchLimit() int {
	return c.cfg.BatchLimit
}

// BreakerStates reports the circuit state of every tier ("closed", "open", "half-open").
func (c *Cascade) BreakerStates() map[string]string {
	states := make(map[string]string, len(c.tiers))
	for _, t := range c.tiers {
		states[string(t.tier.Source())] = t.breaker.State().String()
	}
	return states
}

// Fetch retrieves values for req.Keys.
//
// Keys that do not parse or lie outside req.TenantID are omitted. In auto
// mode tier failures are logged and the remaining keys fall through to the
// next tier and finally the synthesizer. With a pinned tier only that tier
// is consulted, its failure is returned as ErrUpstreamUnavailable and its
// misses are omitted.
func (c *Cascade) Fetch(ctx context.Context, req FetchRequest) ([]point.Value, error) {
	if len(req.Keys) > c.cfg.BatchLimit {
		return nil, invalid("%d keys requested, at most %d per request", len(req.Keys), c.cfg.BatchLimit)
	}
	mode := req.Source
	if mode == "" {
		mode = ModeAuto
	}

	keys := c.parseKeys(req.TenantID, req.Keys)
	if len(keys) == 0 {
		return []point.Value{}, nil
	}

	var found map[string]point.Value
	var err error
	if mode == ModeAuto {
		found = c.walk(ctx, req.TenantID, keys)
	} else {
		found, err = c.pinned(ctx, req.TenantID, keys, point.Source(mode))
		if err != nil {
			return nil, err
		}
	}

	out := make([]point.Value, 0, len(keys))
	for _, k := range keys {
		v, ok := found[k.String()]
		if !ok && mode == ModeAuto && c.synth != nil {
			v, ok = c.synth.Synthesize(k, c.now()), true
		}
		if ok && req.Filters.match(v) {
			out = append(out, v)
		}
	}

	c.metrics.observeServed(out)
	return out, nil
}

// parseKeys keeps the valid, deduplicated keys of tenantID in request order.
func (c *Cascade) parseKeys(tenantID string, raw []string) []point.Key {
	seen := NewKeySet()
	keys := make([]point.Key, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		if !point.HasTenant(r, tenantID) {
			dropped++
			c.logger.Debug("omitting foreign key", "tenant_id", tenantID, "key", r)
			continue
		}
		k, err := point.ParseKey(r)
		if err != nil {
			dropped++
			c.logger.Debug("omitting unresolvable key", "tenant_id", tenantID, "key", r)
			continue
		}
		if !seen.Add(r) {
			continue
		}
		keys = append(keys, k)
	}
	c.metrics.observeDropped(dropped)
	return keys
}

// walk consults every tier in order. A key moves on to the next tier while
// it has no value or only a stale one.
func (c *Cascade) walk(ctx context.Context, tenantID string, keys []point.Key) map[string]point.Value {
	found := make(map[string]point.Value, len(keys))
	pending := keys

	for _, t := range c.tiers {
		if len(pending) == 0 {
			break
		}

		hits, err := c.lookup(ctx, t, tenantID, pending)
		if err != nil {
			c.logger.Warn("tier lookup failed, falling through",
				"tier", string(t.tier.Source()), "tenant_id", tenantID, "keys", len(pending), "error", err)
		}

		next := pending[:0:0]
		for _, k := range pending {
			key := k.String()
			if v, ok := hits[key]; ok {
				if cur, seen := found[key]; !seen || v.Timestamp.After(cur.Timestamp) {
					found[key] = v
				}
			}
			if cur, ok := found[key]; !ok || c.stale(cur) {
				next = append(next, k)
			}
		}
		pending = next
	}
	return found
}

func (c *Cascade) pinned(ctx context.Context, tenantID string, keys []point.Key, src point.Source) (map[string]point.Value, error) {
	for _, t := range c.tiers {
		if t.tier.Source() != src {
			continue
		}
		hits, err := c.lookup(ctx, t, tenantID, keys)
		if err != nil {
			return nil, fmt.Errorf("%w: %s tier: %w", ErrUpstreamUnavailable, src, err)
		}
		return hits, nil
	}
	return nil, fmt.Errorf("%w: %s tier is not configured", ErrUpstreamUnavailable, src)
}

// lookup runs one tier call behind its breaker and timeout.
func (c *Cascade) lookup(ctx context.Context, t guardedTier, tenantID string, keys []point.Key) (map[string]point.Value, error) {
	start := time.Now()
	hits, err := t.breaker.Execute(func() (map[string]point.Value, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.TierTimeout)
		defer cancel()
		return t.tier.Lookup(callCtx, tenantID, keys)
	})

	outcome := outcomeOK
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = outcomeBreakerOpen
	case err != nil:
		outcome = outcomeError
	}
	c.metrics.observeTier(t.tier.Source(), outcome, time.Since(start))

	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (c *Cascade) stale(v point.Value) bool {
	return c.cfg.StaleAfter > 0 && c.now().Sub(v.Timestamp) > c.cfg.StaleAfter
}
