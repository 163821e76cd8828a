package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgevid/proxy/internal/domain/repository"
)

// edgeCacheKeyPrefix namespaces edge-cache entries from presign/version
// keys sharing the same Redis instance.
const edgeCacheKeyPrefix = "edge:"

// DefaultBypassParams is the default bypass query-parameter set (§4.6).
var DefaultBypassParams = map[string]bool{"nocache": true, "bypass": true, "debug": true}

// envelope is the single-value serialization of a CachedResponse.
type envelope struct {
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	Body     []byte              `json:"body"`
	StoredAt int64               `json:"stored_at"`
}

// EdgeCache implements repository.EdgeCache using Redis.
type EdgeCache struct {
	client       *redis.Client
	bypassParams map[string]bool
}

var _ repository.EdgeCache = (*EdgeCache)(nil)

// NewEdgeCache creates a new Redis-backed edge HTTP cache adapter.
func NewEdgeCache(client *redis.Client) *EdgeCache {
	return &EdgeCache{client: client, bypassParams: DefaultBypassParams}
}

// Get returns the cached response for key, or ErrEdgeCacheMiss.
func (c *EdgeCache) Get(ctx context.Context, key string) (*repository.CachedResponse, error) {
	data, err := c.client.Get(ctx, edgeCacheKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrEdgeCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("deserialize cached response: %w", err)
	}

	header := http.Header{}
	for k, vs := range env.Header {
		header[k] = vs
	}
	return &repository.CachedResponse{
		Status:   env.Status,
		Header:   header,
		Body:     env.Body,
		StoredAt: env.StoredAt,
	}, nil
}

// Put stores resp under key with the given TTL. Enforces V5 as a
// backstop: a Cache-Control containing no-store is never stored even if
// the caller forgot to check.
func (c *EdgeCache) Put(ctx context.Context, key string, resp *repository.CachedResponse, ttlSeconds int) error {
	if strings.Contains(strings.ToLower(resp.Header.Get("Cache-Control")), "no-store") {
		return nil
	}

	env := envelope{
		Status:   resp.Status,
		Header:   map[string][]string(resp.Header),
		Body:     resp.Body,
		StoredAt: resp.StoredAt,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serialize cached response: %w", err)
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if err := c.client.Set(ctx, edgeCacheKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Bypassed reports whether a read should bypass the cache per §4.6: any
// bypass query parameter present, or a request Cache-Control containing
// no-cache/no-store.
func (c *EdgeCache) Bypassed(rawQuery string, requestCacheControl string) bool {
	cc := strings.ToLower(requestCacheControl)
	if strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store") {
		return true
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return false
	}
	for param := range c.bypassParams {
		if _, ok := values[param]; ok {
			return true
		}
	}
	return false
}
