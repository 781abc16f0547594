package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/pulse-gateway/internal/infrastructure/redis"
	"github.com/nerrad567/pulse-gateway/internal/point"
)

// ValueCache serves point values from Redis.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type ValueCache struct {
	client *redis.Client
	logger Logger
}

// NewValueCache creates the value tier over client.
func NewValueCache(client *redis.Client) *ValueCache {
	return &ValueCache{client: client, logger: noopLogger{}}
}

// SetLogger sets the logger for the value cache.
func (c *ValueCache) SetLogger(logger Logger) {
	c.logger = logger
}

// Source identifies the tier in the cascade.
func (c *ValueCache) Source() point.Source {
	return point.SourceCache
}

// HealthCheck pings Redis.
func (c *ValueCache) HealthCheck(ctx context.Context) error {
	return c.client.HealthCheck(ctx)
}

// Lookup reads keys with a single MGET. Missing keys and records that do
// not decode are misses.
func (c *ValueCache) Lookup(ctx context.Context, tenantID string, keys []point.Key) (map[string]point.Value, error) {
	if len(keys) == 0 {
		return map[string]point.Value{}, nil
	}

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}

	raw, err := c.client.Redis().MGet(ctx, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget %d keys: %w", len(names), err)
	}

	out := make(map[string]point.Value, len(raw))
	for i, r := range raw {
		s, ok := r.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord(s)
		if err != nil {
			c.logger.Warn("skipping undecodable cached value",
				"tenant_id", tenantID, "key", names[i], "error", err)
			continue
		}
		out[names[i]] = rec.ToValue(keys[i], point.SourceCache)
	}
	return out, nil
}

// setAttempts bounds the optimistic retries of Set when the key changes
// between WATCH and EXEC.
const setAttempts = 3

// Set writes one value with an expiry unless the cached record is newer.
// An equal timestamp replaces the record. ttl 0 stores without expiry.
func (c *ValueCache) Set(ctx context.Context, key string, rec point.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	rdb := c.client.Redis()
	apply := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if existing, err := decodeRecord(current); err == nil && existing.Timestamp.After(rec.Timestamp) {
				c.logger.Debug("keeping newer cached value",
					"key", key, "cached", existing.Timestamp, "incoming", rec.Timestamp)
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < setAttempts; attempt++ {
		err = rdb.Watch(ctx, apply, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes key so readers fall through to the store.
func (c *ValueCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Redis().Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// ScanKeys returns up to limit keys starting with prefix.
func (c *ValueCache) ScanKeys(ctx context.Context, prefix string, limit int) ([]string, error) {
	keys, err := scanPrefix(ctx, c.client.Redis(), prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	return keys, nil
}

// CountKeys counts keys starting with prefix.
func (c *ValueCache) CountKeys(ctx context.Context, prefix string) (int, error) {
	keys, err := scanPrefix(ctx, c.client.Redis(), prefix, 0)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", prefix, err)
	}
	return len(keys), nil
}

// decodeRecord parses a cached record and fills in what older writers omit.
func decodeRecord(s string) (point.Record, error) {
	var rec point.Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return point.Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	v, dt, err := point.NormalizeValue(rec.Value)
	if err != nil {
		return point.Record{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	rec.Value = v
	if !rec.DataType.Valid() {
		rec.DataType = dt
	}
	if !rec.Quality.Valid() {
		rec.Quality = point.QualityGood
	}
	if rec.Timestamp.IsZero() {
		return point.Record{}, fmt.Errorf("%w: no timestamp", ErrMalformedRecord)
	}
	return rec, nil
}
