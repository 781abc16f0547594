package cache

import "errors"

// ErrMalformedRecord indicates a cached value that cannot be served.
var ErrMalformedRecord = errors.New("cache: malformed record")
