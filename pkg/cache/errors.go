package cache

import "errors"

var (
	// ErrNoCache is returned when no usable cache entry exists for a source
	ErrNoCache = errors.New("no cache")

	// ErrCorrupt is returned when a cache entry cannot be decoded
	ErrCorrupt = errors.New("corrupt cache")
)

// Missing reports whether err means the entry is absent, empty or corrupt
func Missing(err error) bool {
	return errors.Is(err, ErrNoCache) || errors.Is(err, ErrCorrupt)
}
