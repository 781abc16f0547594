package cache

import (
	"context"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// scanCount is the COUNT hint passed to each SCAN round trip.
const scanCount = 256

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// matchPrefix returns a SCAN pattern matching keys that start with prefix.
func matchPrefix(prefix string) string {
	return globEscaper.Replace(prefix) + "*"
}

// scanPrefix collects keys under prefix. limit <= 0 means no limit.
func scanPrefix(ctx context.Context, rdb *goredis.Client, prefix string, limit int) ([]string, error) {
	var (
		keys   []string
		cursor uint64
		seen   = map[string]struct{}{}
	)
	pattern := matchPrefix(prefix)
	for {
		batch, next, err := rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			// SCAN may return a key more than once.
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
			if limit > 0 && len(keys) >= limit {
				return keys, nil
			}
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
