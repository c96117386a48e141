package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// CacheHeader reports whether a response was served from the cache.
const CacheHeader = "X-Cache"

// snapshot is a stored 2xx response.
type snapshot struct {
	status      int
	contentType string
	body        []byte
}

// recorder tees the handler's body into buf.
type recorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// NewCacheStore returns a response cache whose expired entries are swept
// every two TTLs.
func NewCacheStore(ttl time.Duration) *cache.Cache {
	return cache.New(ttl, 2*ttl)
}

// Cache serves repeated GETs of the same URI, query included, from memory
// for ttl. Only 2xx responses are stored.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.URL.RequestURI()
		if v, ok := store.Get(key); ok {
			snap := v.(snapshot)
			c.Header(CacheHeader, "HIT")
			c.Data(snap.status, snap.contentType, snap.body)
			c.Abort()
			return
		}

		c.Header(CacheHeader, "MISS")
		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if status := rec.Status(); status >= 200 && status < 300 {
			store.Set(key, snapshot{
				status:      status,
				contentType: rec.Header().Get("Content-Type"),
				body:        bytes.Clone(rec.buf.Bytes()),
			}, ttl)
		}
	}
}
