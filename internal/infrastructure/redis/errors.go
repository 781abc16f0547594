package redis

import "errors"

// Sentinel errors for Redis operations.
//
//	if errors.Is(err, redis.ErrConnectionFailed) {
//	    // start degraded, the cache tier will report failures
//	}
var (
	// ErrConnectionFailed indicates the initial ping did not succeed.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrNotConnected indicates the client has been closed.
	ErrNotConnected = errors.New("redis: not connected")
)
