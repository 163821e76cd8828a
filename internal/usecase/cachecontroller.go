// Package usecase implements the Cache Controller (C9) and Fallback
// Engine (C10): orchestration above the resolver/transform/origin and
// infrastructure ports.
package usecase

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
	"github.com/edgevid/proxy/internal/infrastructure/metrics"
)

// FetchFunc invokes the upstream transformation for the lookup in
// progress. Supplied by the caller so the controller stays agnostic of
// how the URL was built.
type FetchFunc func(ctx context.Context) (*repository.UpstreamResponse, error)

// LookupInput describes one cache-controller lookup.
type LookupInput struct {
	Key          model.VariantKey
	Method       string
	EdgeCacheKey string
	ContentType  string
	Tags         []string
	TTLPolicy    model.CacheTTLPolicy
	Fetch        FetchFunc
}

// LookupResult is what the controller returns regardless of which tier
// satisfied it.
type LookupResult struct {
	Status int
	Header http.Header
	Body   []byte
	Source string
}

const (
	sourceVariant = "variant"
	sourceEdge    = "edge"
	sourceOrigin  = "origin"
)

// CacheController implements C9: C7 → C6 → origin lookup order, with
// at-most-one in-flight transformation per VariantKey via singleflight,
// and background writes so cache population never delays the response.
type CacheController struct {
	variants repository.VariantStore
	edge     repository.EdgeCache
	queue    repository.MessageQueue
	sf       singleflight.Group
}

// NewCacheController wires the three collaborators. queue may be nil, in
// which case cache writes happen synchronously instead of via background
// task.
func NewCacheController(variants repository.VariantStore, edge repository.EdgeCache, queue repository.MessageQueue) *CacheController {
	return &CacheController{variants: variants, edge: edge, queue: queue}
}

// Lookup resolves in, coalescing concurrent callers sharing the same
// VariantKey into a single execution (§4.9 race control).
func (c *CacheController) Lookup(ctx context.Context, in LookupInput) (*LookupResult, error) {
	sfKey := in.Key.String()
	v, err, shared := c.sf.Do(sfKey, func() (any, error) {
		return c.lookup(ctx, in)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}
	return v.(*LookupResult), nil
}

func (c *CacheController) lookup(ctx context.Context, in LookupInput) (*LookupResult, error) {
	if variant, err := c.variants.Get(ctx, in.Key); err == nil {
		metrics.CacheTierOperationsTotal.WithLabelValues(metrics.TierVariant, metrics.CacheStatusHit).Inc()
		return &LookupResult{Status: http.StatusOK, Header: variantHeader(variant), Body: variant.Body, Source: sourceVariant}, nil
	} else {
		status := metrics.CacheStatusMiss
		if err == repository.ErrVariantCorrupt {
			status = "corrupt"
		}
		metrics.CacheTierOperationsTotal.WithLabelValues(metrics.TierVariant, status).Inc()
	}

	if in.Method == http.MethodGet {
		if cached, err := c.edge.Get(ctx, in.EdgeCacheKey); err == nil {
			metrics.CacheTierOperationsTotal.WithLabelValues(metrics.TierEdge, metrics.CacheStatusHit).Inc()
			return &LookupResult{Status: cached.Status, Header: cached.Header, Body: cached.Body, Source: sourceEdge}, nil
		}
		metrics.CacheTierOperationsTotal.WithLabelValues(metrics.TierEdge, metrics.CacheStatusMiss).Inc()
	}

	resp, err := in.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if resp.Status >= 200 && resp.Status < 300 {
		if ttl, cacheable := in.TTLPolicy.TTLForStatus(resp.Status); cacheable && isCacheableContentType(in.ContentType) {
			c.writeBack(ctx, in, resp, ttl)
		}
	}

	return &LookupResult{Status: resp.Status, Header: resp.Header, Body: resp.Body, Source: sourceOrigin}, nil
}

// writeBack persists an origin success into C6 and C7. Per §4.9: C6 is
// written synchronously when no background-task queue is configured,
// otherwise via background task; C7 is always written via background
// task when a queue is available so the response is never delayed, and
// synchronously as a last resort when it is not.
func (c *CacheController) writeBack(ctx context.Context, in LookupInput, resp *repository.UpstreamResponse, ttl int) {
	if c.queue == nil {
		if in.Method == http.MethodGet {
			if err := c.edge.Put(ctx, in.EdgeCacheKey, &repository.CachedResponse{Status: resp.Status, Header: resp.Header, Body: resp.Body}, ttl); err != nil {
				slog.Warn("failed to write edge cache", "key", in.EdgeCacheKey, "error", err)
			}
		}
		if err := c.variants.Put(ctx, in.Key, resp.Body, in.ContentType, in.Tags, ttl); err != nil {
			slog.Warn("failed to write variant store", "key", in.Key.String(), "error", err)
		}
		return
	}

	if in.Method == http.MethodGet {
		c.publish(ctx, repository.BackgroundTask{
			Kind: repository.TaskWriteEdgeCache, Key: in.EdgeCacheKey,
			Body: resp.Body, ContentType: in.ContentType, TTLSeconds: ttl,
		})
	}
	c.publish(ctx, repository.BackgroundTask{
		Kind: repository.TaskWriteVariant, Key: in.Key.String(),
		Body: resp.Body, ContentType: in.ContentType, Tags: in.Tags, TTLSeconds: ttl,
	})
}

func (c *CacheController) publish(ctx context.Context, task repository.BackgroundTask) {
	if err := c.queue.PublishTask(ctx, task); err != nil {
		slog.Warn("failed to publish background task", "kind", task.Kind, "key", task.Key, "error", err)
	}
}

// isCacheableContentType is the §9-resolved cacheability filter: a
// configured nonzero TTL is only authoritative for the video/* and
// image/* families; anything else is never written to C6/C7 regardless
// of TTL policy.
func isCacheableContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "video/") || strings.HasPrefix(contentType, "image/")
}

func variantHeader(v *model.Variant) http.Header {
	h := http.Header{}
	h.Set("Content-Type", v.ContentType)
	if v.ETag != "" {
		h.Set("ETag", v.ETag)
	}
	if v.LastModified != "" {
		h.Set("Last-Modified", v.LastModified)
	}
	return h
}
