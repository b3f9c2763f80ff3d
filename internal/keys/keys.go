package keys

import "strings"

const (
	cachePrefix = "cache"
	sep         = ":"
)

// Storage returns the cache key for a user key: cache:<ns>:<key>.
func Storage(ns, key string) string {
	var b strings.Builder
	b.Grow(len(cachePrefix) + len(ns) + len(key) + 2)
	b.WriteString(cachePrefix)
	b.WriteString(sep)
	b.WriteString(ns)
	b.WriteString(sep)
	b.WriteString(key)
	return b.String()
}

// Lock returns the lock name for a user key: <ns>:<key>.
// The locker adds its own prefix (lock: by default).
func Lock(ns, key string) string {
	return ns + sep + key
}
