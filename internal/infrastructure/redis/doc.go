// Package redis provides the connection to the ephemeral key-value store.
//
// The gateway keeps point values (written by the ingest with a TTL) and
// subscription records there. Connect verifies reachability with a PING but
// the returned client stays usable when the server is down: go-redis dials
// lazily, so the cache tier recovers once Redis comes back.
//
// Usage:
//
//	client, err := redis.Connect(ctx, cfg.Redis)
//	if errors.Is(err, redis.ErrConnectionFailed) {
//	    log.Warn("redis unreachable, starting degraded", "error", err)
//	}
//	defer client.Close()
package redis
