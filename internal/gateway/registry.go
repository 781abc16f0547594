package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Subscription interval bounds in milliseconds.
const (
	MinUpdateIntervalMs     = 100
	MaxUpdateIntervalMs     = 300_000
	DefaultUpdateIntervalMs = 1000

	defaultListLimit = 50
	maxListLimit     = 500
)

// Data source labels reported on list responses.
const (
	DataSourceCache       = "cache"
	DataSourceUnavailable = "unavailable"
)

// SubscriptionStore persists subscriptions with an expiry.
//
// Load returns an error wrapping ErrNotFound when the record is absent.
// Touch rewrites an existing record only; ttl 0 keeps the remaining expiry.
// Touch and Delete report whether the record existed.
type SubscriptionStore interface {
	Save(ctx context.Context, sub *Subscription, ttl time.Duration) error
	Load(ctx context.Context, tenantID, id string) (*Subscription, error)
	Touch(ctx context.Context, sub *Subscription, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, tenantID, id string) (bool, error)
	List(ctx context.Context, tenantID string) ([]*Subscription, error)
}

// RegistryConfig tunes subscription lifetime and bounds.
type RegistryConfig struct {
	TTL               time.Duration
	RenewOnPoll       bool
	DefaultIntervalMs int
	MaxKeys           int
}

// CreateRequest describes a new subscription.
type CreateRequest struct {
	Selectors        []Selector
	UpdateIntervalMs int
	CallbackURL      string
}

// ListOptions filters a subscription listing.
type ListOptions struct {
	Status Status
	Limit  int
}

// ListResult is one page of subscriptions.
type ListResult struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Total         int             `json:"total"`
	Degraded      bool            `json:"degraded"`
	DataSource    string          `json:"data_source"`
}

// Registry manages subscriptions on top of a SubscriptionStore.
//
// It holds no subscription state itself; concurrent writers to one
// subscription race last-writer-wins in the store.
type Registry struct {
	store    SubscriptionStore
	expander *Expander
	cfg      RegistryConfig
	metrics  *Metrics
	logger   Logger
	now      func() time.Time
}

// NewRegistry creates a subscription registry.
func NewRegistry(store SubscriptionStore, expander *Expander, cfg RegistryConfig) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.DefaultIntervalMs <= 0 {
		cfg.DefaultIntervalMs = DefaultUpdateIntervalMs
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 500
	}
	return &Registry{
		store:    store,
		expander: expander,
		cfg:      cfg,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics attaches Prometheus collectors.
func (r *Registry) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Create expands the request's selectors and persists a new subscription.
func (r *Registry) Create(ctx context.Context, tenantID string, req CreateRequest) (*Subscription, error) {
	if !hasSelector(req.Selectors) {
		return nil, invalid("one of keys, point_ids or device_ids is required")
	}

	interval := req.UpdateIntervalMs
	if interval == 0 {
		interval = r.cfg.DefaultIntervalMs
	}
	if interval < MinUpdateIntervalMs || interval > MaxUpdateIntervalMs {
		return nil, invalid("update_interval must be between %d and %d ms", MinUpdateIntervalMs, MaxUpdateIntervalMs)
	}

	set, err := r.expander.Expand(ctx, tenantID, req.Selectors...)
	if err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return nil, invalid("selectors resolved to no points")
	}
	if set.Len() > r.cfg.MaxKeys {
		return nil, invalid("selectors resolved to %d points, at most %d per subscription", set.Len(), r.cfg.MaxKeys)
	}

	now := r.now().UTC()
	sub := &Subscription{
		ID:               NewSubscriptionID(tenantID),
		TenantID:         tenantID,
		Keys:             set.Sorted(),
		TotalKeys:        set.Len(),
		UpdateIntervalMs: interval,
		CallbackURL:      req.CallbackURL,
		Status:           StatusActive,
		CreatedAt:        now,
		ExpiresAt:        now.Add(r.cfg.TTL),
	}

	if err := r.store.Save(ctx, sub, r.cfg.TTL); err != nil {
		return nil, fmt.Errorf("%w: saving subscription: %w", ErrUpstreamUnavailable, err)
	}

	r.metrics.observeSubscription("created")
	r.logger.Info("subscription created",
		"subscription_id", sub.ID, "tenant_id", tenantID, "total_keys", sub.TotalKeys)
	return sub, nil
}

// authorize checks the id's tenant fragment against the caller without
// touching the store, so foreign ids never reveal whether they exist.
func authorize(id, tenantID string) error {
	owner, err := TenantOfSubscription(id)
	if err != nil {
		return err
	}
	if owner != tenantID {
		return fmt.Errorf("%w: subscription %s", ErrAccessDenied, id)
	}
	return nil
}

// Get returns a live subscription of tenantID.
func (r *Registry) Get(ctx context.Context, id, tenantID string) (*Subscription, error) {
	if err := authorize(id, tenantID); err != nil {
		return nil, err
	}

	sub, err := r.store.Load(ctx, tenantID, id)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading subscription: %w", ErrUpstreamUnavailable, err)
	}
	if sub.TenantID != tenantID {
		return nil, fmt.Errorf("%w: subscription %s", ErrAccessDenied, id)
	}

	now := r.now()
	sub.refreshStatus(now)
	if sub.Status == StatusExpired {
		return nil, fmt.Errorf("%w: subscription %s expired", ErrNotFound, id)
	}
	return sub, nil
}

// List returns tenantID's subscriptions, newest first. When the store
// cannot be read the page is empty and flagged degraded.
func (r *Registry) List(ctx context.Context, tenantID string, opts ListOptions) *ListResult {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	subs, err := r.store.List(ctx, tenantID)
	if err != nil {
		r.logger.Warn("listing subscriptions failed", "tenant_id", tenantID, "error", err)
		return &ListResult{
			Subscriptions: []*Subscription{},
			Degraded:      true,
			DataSource:    DataSourceUnavailable,
		}
	}

	now := r.now()
	matched := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s.TenantID != tenantID {
			continue
		}
		s.refreshStatus(now)
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return &ListResult{
		Subscriptions: matched,
		Total:         total,
		DataSource:    DataSourceCache,
	}
}

// Delete removes a subscription. Deleting an absent or expired
// subscription succeeds with wasActive false.
func (r *Registry) Delete(ctx context.Context, id, tenantID string) (bool, error) {
	if err := authorize(id, tenantID); err != nil {
		return false, err
	}

	existed, err := r.store.Delete(ctx, tenantID, id)
	if err != nil {
		return false, fmt.Errorf("%w: deleting subscription: %w", ErrUpstreamUnavailable, err)
	}
	if existed {
		r.metrics.observeSubscription("deleted")
		r.logger.Info("subscription deleted", "subscription_id", id, "tenant_id", tenantID)
	}
	return existed, nil
}

// Touch records a poll. The remaining TTL is kept unless renewal on poll
// is configured. Concurrent touches are last-writer-wins.
func (r *Registry) Touch(ctx context.Context, sub *Subscription, polledAt time.Time) error {
	polledAt = polledAt.UTC()
	sub.LastPolledAt = &polledAt

	var ttl time.Duration
	if r.cfg.RenewOnPoll {
		ttl = r.cfg.TTL
		sub.ExpiresAt = polledAt.Add(ttl)
	}

	if _, err := r.store.Touch(ctx, sub, ttl); err != nil {
		return fmt.Errorf("touching subscription: %w", err)
	}
	return nil
}

// ActiveCounts returns the number of tenantID's active subscriptions and
// the number of distinct keys they monitor.
func (r *Registry) ActiveCounts(ctx context.Context, tenantID string) (subscriptions, keys int, err error) {
	subs, err := r.store.List(ctx, tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("listing subscriptions: %w", err)
	}

	now := r.now()
	distinct := NewKeySet()
	for _, s := range subs {
		if s.TenantID != tenantID || s.expired(now) {
			continue
		}
		subscriptions++
		for _, k := range s.Keys {
			distinct.Add(k)
		}
	}
	return subscriptions, distinct.Len(), nil
}
