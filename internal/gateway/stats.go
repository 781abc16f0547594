package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

const defaultProbeTimeout = time.Second

// HealthChecker is implemented by the cache and store adapters.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// KeyCounter counts cached keys under a prefix.
type KeyCounter interface {
	CountKeys(ctx context.Context, prefix string) (int, error)
}

// EngineChecker reports the health of the device-control engine.
type EngineChecker interface {
	Check(ctx context.Context) (healthy bool, status string, err error)
}

// EngineHealth is the control-engine part of a snapshot.
type EngineHealth struct {
	Configured bool   `json:"configured"`
	Healthy    bool   `json:"healthy"`
	Status     string `json:"status"`
}

// Snapshot is an operational view of the gateway for one tenant.
// Counts are nil when they could not be determined.
type Snapshot struct {
	CacheHealthy        bool              `json:"cache_healthy"`
	StoreHealthy        bool              `json:"store_healthy"`
	Engine              EngineHealth      `json:"engine"`
	ActiveSubscriptions *int              `json:"active_subscriptions"`
	MonitoredKeys       *int              `json:"monitored_keys"`
	CachedPoints        *int              `json:"cached_points"`
	Breakers            map[string]string `json:"breakers"`
	StartedAt           time.Time         `json:"started_at"`
	UptimeSeconds       int64             `json:"uptime_seconds"`
	GeneratedAt         time.Time         `json:"generated_at"`
}

// StatsDeps collects the probes used by Stats. Any of them may be nil.
type StatsDeps struct {
	Cache    HealthChecker
	Store    HealthChecker
	Counter  KeyCounter
	Engine   EngineChecker
	Registry *Registry
	Cascade  *Cascade
}

// Stats builds gateway snapshots.
type Stats struct {
	deps    StatsDeps
	started time.Time
	timeout time.Duration
	logger  Logger
	now     func() time.Time
}

// NewStats creates a stats provider; uptime is measured from now.
func NewStats(deps StatsDeps) *Stats {
	return &Stats{
		deps:    deps,
		started: time.Now().UTC(),
		timeout: defaultProbeTimeout,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for stats probes.
func (s *Stats) SetLogger(logger Logger) {
	s.logger = logger
}

// Snapshot runs every probe concurrently. A failed probe degrades its own
// field and never fails the snapshot.
func (s *Stats) Snapshot(ctx context.Context, tenantID string) Snapshot {
	now := s.now().UTC()
	snap := Snapshot{
		StartedAt:     s.started,
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
		GeneratedAt:   now,
		Breakers:      map[string]string{},
	}
	if s.deps.Cascade != nil {
		snap.Breakers = s.deps.Cascade.BreakerStates()
	}
	if s.deps.Engine == nil {
		snap.Engine.Status = "not_configured"
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var mu sync.Mutex
	set := func(f func()) {
		mu.Lock()
		defer mu.Unlock()
		f()
	}

	// Probes report through set and always return nil so one failure
	// cannot cancel the others.
	var g errgroup.Group

	if s.deps.Cache != nil {
		g.Go(func() error {
			err := s.deps.Cache.HealthCheck(probeCtx)
			s.warn("cache", err)
			set(func() { snap.CacheHealthy = err == nil })
			return nil
		})
	}
	if s.deps.Store != nil {
		g.Go(func() error {
			err := s.deps.Store.HealthCheck(probeCtx)
			s.warn("store", err)
			set(func() { snap.StoreHealthy = err == nil })
			return nil
		})
	}
	if s.deps.Engine != nil {
		g.Go(func() error {
			healthy, status, err := s.deps.Engine.Check(probeCtx)
			s.warn("engine", err)
			if err != nil {
				status = "unreachable"
			}
			set(func() { snap.Engine = EngineHealth{Configured: true, Healthy: err == nil && healthy, Status: status} })
			return nil
		})
	}
	if s.deps.Registry != nil {
		g.Go(func() error {
			subs, keys, err := s.deps.Registry.ActiveCounts(probeCtx, tenantID)
			s.warn("subscriptions", err)
			if err == nil {
				set(func() { snap.ActiveSubscriptions, snap.MonitoredKeys = &subs, &keys })
			}
			return nil
		})
	}
	if s.deps.Counter != nil {
		g.Go(func() error {
			n, err := s.deps.Counter.CountKeys(probeCtx, point.TenantPrefix(tenantID))
			s.warn("cached points", err)
			if err == nil {
				set(func() { snap.CachedPoints = &n })
			}
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // Probes never return errors
	return snap
}

func (s *Stats) warn(probe string, err error) {
	if err != nil {
		s.logger.Warn("stats probe failed", "probe", probe, "error", err)
	}
}
