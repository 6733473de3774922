package middleware

// Responses are cached in memory per snapshot version, so a refresh that
// changes any source invalidates every entry without explicit purging.
// golang-lru evicts the least recently used entries once the cache is full.

import (
	"bytes"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru"
)

// CacheHeader reports HIT or MISS.
const CacheHeader = "X-Cache"

type cachedResponse struct {
	contentType string
	body        []byte
}

// Cache stores successful GET responses keyed by url and data version.
type Cache struct {
	entries *lru.Cache
	version func() string
}

// NewCache sets up an LRU cache of the given size. version is called on every
// request; a new value makes older entries unreachable.
func NewCache(size int, version func() string) (*Cache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, version: version}, nil
}

// Len returns the number of cached responses.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Middleware serves cached responses and stores 200 responses.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := generateCacheKey(r, c.version())
		if v, ok := c.entries.Get(key); ok {
			cached := v.(cachedResponse)
			w.Header().Set("Content-Type", cached.contentType)
			w.Header().Set(CacheHeader, "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached.body)
			return
		}

		w.Header().Set(CacheHeader, "MISS")
		rec := &bufferingWriter{statusRecorder: newStatusRecorder(w)}
		next.ServeHTTP(rec, r)

		if rec.status == http.StatusOK {
			c.entries.Add(key, cachedResponse{
				contentType: w.Header().Get("Content-Type"),
				body:        rec.buf.Bytes(),
			})
		}
	})
}

// generateCacheKey combines the request url with the data version.
func generateCacheKey(r *http.Request, version string) string {
	return fmt.Sprintf("%s?%s#%s", r.URL.Path, r.URL.RawQuery, version)
}

// bufferingWriter writes through while keeping a copy of the body.
type bufferingWriter struct {
	*statusRecorder
	buf bytes.Buffer
}

func (b *bufferingWriter) Write(p []byte) (int, error) {
	b.buf.Write(p)
	return b.statusRecorder.Write(p)
}
