package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/pulse-gateway/internal/infrastructure/config"
)

const defaultPingTimeout = 2 * time.Second

// Client wraps a go-redis client with lifecycle tracking.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	rdb *goredis.Client
	cfg config.RedisConfig

	mu     sync.RWMutex
	closed bool
}

// Connect creates the client and pings the server.
//
// A failed ping still returns a usable client together with an error
// wrapping ErrConnectionFailed, so callers may choose to start degraded.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  millis(cfg.DialTimeoutMs),
		ReadTimeout:  millis(cfg.ReadTimeoutMs),
		WriteTimeout: millis(cfg.WriteTimeoutMs),
	})

	c := &Client{rdb: rdb, cfg: cfg}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return c, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Addr, err)
	}
	return c, nil
}

// NewFromClient wraps an existing go-redis client. Tests use it with miniredis.
func NewFromClient(rdb *goredis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis returns the underlying go-redis client for adapters that issue commands.
func (c *Client) Redis() *goredis.Client {
	return c.rdb
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := c.rdb.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis: %w", err)
	}
	return nil
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
