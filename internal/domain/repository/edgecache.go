package repository

import (
	"context"
	"net/http"
)

// CachedResponse is the stored shape of an EdgeCache entry: enough of an
// HTTP response to replay it, including range-synthesis inputs.
type CachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64
}

// EdgeCache is the C6 HTTP Edge Cache Adapter port, keyed by the original
// request URL.
type EdgeCache interface {
	// Get returns the cached response for key, or ErrEdgeCacheMiss.
	Get(ctx context.Context, key string) (*CachedResponse, error)

	// Put stores resp under key with the given TTL in seconds. Callers
	// must not call Put for a response whose Cache-Control contains
	// no-store (V5) — EdgeCache itself also enforces this as a backstop.
	Put(ctx context.Context, key string, resp *CachedResponse, ttlSeconds int) error
}
