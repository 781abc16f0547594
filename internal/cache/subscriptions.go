package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/pulse-gateway/internal/gateway"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/redis"
)

// SubscriptionStore keeps subscriptions in Redis. It implements
// gateway.SubscriptionStore.
type SubscriptionStore struct {
	client *redis.Client
	logger Logger
}

// NewSubscriptionStore creates a subscription store over client.
func NewSubscriptionStore(client *redis.Client) *SubscriptionStore {
	return &SubscriptionStore{client: client, logger: noopLogger{}}
}

// SetLogger sets the logger for the subscription store.
func (s *SubscriptionStore) SetLogger(logger Logger) {
	s.logger = logger
}

// SubscriptionKey returns the Redis key of a subscription.
func SubscriptionKey(tenantID, id string) string {
	return tenantID + ":subscription:" + id
}

// Save writes sub with the given time to live.
func (s *SubscriptionStore) Save(ctx context.Context, sub *gateway.Subscription, ttl time.Duration) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encoding subscription %s: %w", sub.ID, err)
	}
	if err := s.client.Redis().Set(ctx, SubscriptionKey(sub.TenantID, sub.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("saving subscription %s: %w", sub.ID, err)
	}
	return nil
}

// Load reads one subscription.
func (s *SubscriptionStore) Load(ctx context.Context, tenantID, id string) (*gateway.Subscription, error) {
	data, err := s.client.Redis().Get(ctx, SubscriptionKey(tenantID, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: subscription %s", gateway.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading subscription %s: %w", id, err)
	}

	var sub gateway.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decoding subscription %s: %w", id, err)
	}
	return &sub, nil
}

// Touch overwrites an existing record. ttl 0 keeps the remaining expiry.
func (s *SubscriptionStore) Touch(ctx context.Context, sub *gateway.Subscription, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(sub)
	if err != nil {
		return false, fmt.Errorf("encoding subscription %s: %w", sub.ID, err)
	}

	args := goredis.SetArgs{Mode: "XX"}
	if ttl > 0 {
		args.TTL = ttl
	} else {
		args.KeepTTL = true
	}

	err = s.client.Redis().SetArgs(ctx, SubscriptionKey(sub.TenantID, sub.ID), data, args).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("touching subscription %s: %w", sub.ID, err)
	}
	return true, nil
}

// Delete removes a subscription and reports whether it existed.
func (s *SubscriptionStore) Delete(ctx context.Context, tenantID, id string) (bool, error) {
	n, err := s.client.Redis().Del(ctx, SubscriptionKey(tenantID, id)).Result()
	if err != nil {
		return false, fmt.Errorf("deleting subscription %s: %w", id, err)
	}
	return n > 0, nil
}

// List returns every stored subscription of tenantID. Records that vanish
// between SCAN and MGET, or do not decode, are skipped.
func (s *SubscriptionStore) List(ctx context.Context, tenantID string) ([]*gateway.Subscription, error) {
	keys, err := scanPrefix(ctx, s.client.Redis(), SubscriptionKey(tenantID, ""), 0)
	if err != nil {
		return nil, fmt.Errorf("scanning subscriptions: %w", err)
	}
	if len(keys) == 0 {
		return []*gateway.Subscription{}, nil
	}

	raw, err := s.client.Redis().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading subscriptions: %w", err)
	}

	subs := make([]*gateway.Subscription, 0, len(raw))
	for i, r := range raw {
		str, ok := r.(string)
		if !ok {
			continue
		}
		var sub gateway.Subscription
		if err := json.Unmarshal([]byte(str), &sub); err != nil {
			s.logger.Warn("skipping undecodable subscription", "key", keys[i], "error", err)
			continue
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}
