package usecase

import (
	"context"
	"net/http"
	"regexp"
	"testing"

	"github.com/edgevid/proxy/internal/configstore"
	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
)

// fakeSnapshotter supplies a fixed configstore.Snapshot, bypassing the
// JSON document loader so tests can hand-build patterns.
type fakeSnapshotter struct {
	snap *configstore.Snapshot
}

func (f *fakeSnapshotter) Snapshot() *configstore.Snapshot { return f.snap }

// fakeVariantStore is a minimal in-memory repository.VariantStore double.
type fakeVariantStore struct {
	entries map[string]*model.Variant
}

func newFakeVariantStore() *fakeVariantStore {
	return &fakeVariantStore{entries: map[string]*model.Variant{}}
}

func (f *fakeVariantStore) Get(ctx context.Context, key model.VariantKey) (*model.Variant, error) {
	v, ok := f.entries[key.String()]
	if !ok {
		return nil, repository.ErrVariantMiss
	}
	return v, nil
}

func (f *fakeVariantStore) GetRange(ctx context.Context, key model.VariantKey, start, end int64) ([]byte, int64, error) {
	v, ok := f.entries[key.String()]
	if !ok {
		return nil, 0, repository.ErrVariantMiss
	}
	return v.Body[start : end+1], int64(len(v.Body)), nil
}

func (f *fakeVariantStore) Put(ctx context.Context, key model.VariantKey, body []byte, contentType string, tags []string, ttlSeconds int) error {
	f.entries[key.String()] = &model.Variant{Body: body, ContentType: contentType, ContentLength: int64(len(body)), Tags: tags}
	return nil
}

func (f *fakeVariantStore) Stat(ctx context.Context, key model.VariantKey) (*model.Variant, error) {
	v, ok := f.entries[key.String()]
	if !ok {
		return nil, repository.ErrVariantMiss
	}
	return &model.Variant{ContentType: v.ContentType, ContentLength: v.ContentLength, Tags: v.Tags}, nil
}

// fakeEdgeCache is a minimal in-memory repository.EdgeCache double.
type fakeEdgeCache struct {
	entries map[string]*repository.CachedResponse
}

func newFakeEdgeCache() *fakeEdgeCache {
	return &fakeEdgeCache{entries: map[string]*repository.CachedResponse{}}
}

func (f *fakeEdgeCache) Get(ctx context.Context, key string) (*repository.CachedResponse, error) {
	v, ok := f.entries[key]
	if !ok {
		return nil, repository.ErrEdgeCacheMiss
	}
	return v, nil
}

func (f *fakeEdgeCache) Put(ctx context.Context, key string, resp *repository.CachedResponse, ttlSeconds int) error {
	f.entries[key] = resp
	return nil
}

// fakeVersionStore always reports model.DefaultVersion.
type fakeVersionStore struct{}

func (fakeVersionStore) Read(ctx context.Context, key string) (int, error) { return model.DefaultVersion, nil }
func (fakeVersionStore) Next(ctx context.Context, key string, force bool) (int, error) {
	return model.DefaultVersion, nil
}
func (fakeVersionStore) Reset(ctx context.Context, key string) error { return nil }

// fakeTransformer is a scripted repository.Transformer double: each call
// pops the next entry off responses, in order.
type fakeTransformer struct {
	responses []*repository.UpstreamResponse
	calls     []string
}

func (f *fakeTransformer) Fetch(ctx context.Context, method, url string, header http.Header) (*repository.UpstreamResponse, error) {
	f.calls = append(f.calls, url)
	if len(f.responses) == 0 {
		return &repository.UpstreamResponse{Status: http.StatusInternalServerError}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func testPattern() *model.PathPattern {
	return &model.PathPattern{
		Name:      "videos",
		Matcher:   regexp.MustCompile(`^/videos/(?P<videoId>[^/]+)$`),
		OriginURL: "https://origin.example.com",
	}
}

func newTestService(t *testing.T, variants *fakeVariantStore, edge *fakeEdgeCache, upstream *fakeTransformer) *TransformService {
	t.Helper()
	snap := &configstore.Snapshot{
		Patterns:    []*model.PathPattern{testPattern()},
		Derivatives: map[string]model.Derivative{},
		DefaultTTL:  model.CacheTTLPolicy{OK: 300, ClientError: 10, ServerError: 0},
	}
	cache := NewCacheController(variants, edge, nil)
	fallback := NewEngine()
	return NewTransformService(
		&fakeSnapshotter{snap: snap},
		fakeVersionStore{}, variants, cache, fallback, upstream,
		nil, nil, nil,
		"https", "transform.example.com", "/transform",
	)
}

func TestTransformService_Handle_ColdCacheFetchesAndWritesBack(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{responses: []*repository.UpstreamResponse{
		{Status: http.StatusOK, Header: http.Header{"Content-Type": {"video/mp4"}}, Body: []byte("transformed-bytes")},
	}}
	svc := newTestService(t, variants, edge, upstream)

	result, err := svc.Handle(context.Background(), Request{
		Method: http.MethodGet, Path: "/videos/abc123", RawQuery: "width=320",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", result.Status)
	}
	if result.Source != sourceOrigin {
		t.Errorf("Source = %q, want %q", result.Source, sourceOrigin)
	}
	if string(result.Body) != "transformed-bytes" {
		t.Errorf("Body = %q", result.Body)
	}
	if len(upstream.calls) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", len(upstream.calls))
	}
	if len(variants.entries) != 1 {
		t.Errorf("expected variant store write-back, got %d entries", len(variants.entries))
	}
}

func TestTransformService_Handle_WarmVariantHit(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{}
	svc := newTestService(t, variants, edge, upstream)

	key := model.VariantKey{Path: "/abc123", Options: model.TransformOptions{Mode: model.ModeVideo, Width: intPtr(320)}, Version: model.DefaultVersion}
	variants.entries[key.String()] = &model.Variant{Body: []byte("cached-bytes"), ContentType: "video/mp4", ContentLength: 12}

	result, err := svc.Handle(context.Background(), Request{
		Method: http.MethodGet, Path: "/videos/abc123", RawQuery: "width=320",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.Source != sourceVariant {
		t.Errorf("Source = %q, want %q", result.Source, sourceVariant)
	}
	if string(result.Body) != "cached-bytes" {
		t.Errorf("Body = %q, want cached-bytes", result.Body)
	}
	if len(upstream.calls) != 0 {
		t.Errorf("expected no upstream calls on variant hit, got %d", len(upstream.calls))
	}
}

func TestTransformService_Handle_RangeOverWarmVariant(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{}
	svc := newTestService(t, variants, edge, upstream)

	key := model.VariantKey{Path: "/abc123", Options: model.TransformOptions{Mode: model.ModeVideo, Width: intPtr(320)}, Version: model.DefaultVersion}
	variants.entries[key.String()] = &model.Variant{Body: []byte("0123456789"), ContentType: "video/mp4", ContentLength: 10}

	result, err := svc.Handle(context.Background(), Request{
		Method: http.MethodGet, Path: "/videos/abc123", RawQuery: "width=320",
		Header: http.Header{"Range": {"bytes=2-5"}},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.Status != http.StatusPartialContent {
		t.Errorf("Status = %d, want 206", result.Status)
	}
	if string(result.Body) != "2345" {
		t.Errorf("Body = %q, want 2345", result.Body)
	}
	if result.Header.Get("Content-Range") != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", result.Header.Get("Content-Range"))
	}
	if len(upstream.calls) != 0 {
		t.Errorf("expected no upstream calls, got %d", len(upstream.calls))
	}
}

func TestTransformService_Handle_UnsatisfiableRangeOverVariant(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{}
	svc := newTestService(t, variants, edge, upstream)

	key := model.VariantKey{Path: "/abc123", Options: model.TransformOptions{Mode: model.ModeVideo, Width: intPtr(320)}, Version: model.DefaultVersion}
	variants.entries[key.String()] = &model.Variant{Body: []byte("0123456789"), ContentType: "video/mp4", ContentLength: 10}

	result, err := svc.Handle(context.Background(), Request{
		Method: http.MethodGet, Path: "/videos/abc123", RawQuery: "width=320",
		Header: http.Header{"Range": {"bytes=50-60"}},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.Status != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("Status = %d, want 416", result.Status)
	}
	if !result.Unsatisfiable {
		t.Error("expected Unsatisfiable = true")
	}
	if result.Header.Get("Content-Range") != "bytes */10" {
		t.Errorf("Content-Range = %q", result.Header.Get("Content-Range"))
	}
}

func TestTransformService_Handle_FallbackChainOnOriginFailure(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{responses: []*repository.UpstreamResponse{
		{Status: http.StatusInternalServerError, Header: http.Header{}, Body: []byte(`{"errorType":"ServerError"}`)},
		{Status: http.StatusOK, Header: http.Header{"Content-Type": {"video/mp4"}}, Body: []byte("direct-fetch-bytes")},
	}}
	svc := newTestService(t, variants, edge, upstream)

	result, err := svc.Handle(context.Background(), Request{
		Method: http.MethodGet, Path: "/videos/abc123", RawQuery: "",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.Source != sourceFallback {
		t.Errorf("Source = %q, want %q", result.Source, sourceFallback)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200 from fallback step C", result.Status)
	}
	if string(result.Body) != "direct-fetch-bytes" {
		t.Errorf("Body = %q", result.Body)
	}
	if result.Header.Get("X-Direct-Source-Used") != "true" {
		t.Errorf("expected X-Direct-Source-Used header, got %v", result.Header)
	}
}

func TestTransformService_Handle_NoMatchingPatternReturnsError(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{}
	svc := newTestService(t, variants, edge, upstream)

	_, err := svc.Handle(context.Background(), Request{
		Method: http.MethodGet, Path: "/unmatched/path", Header: http.Header{},
	})
	if err == nil {
		t.Fatal("expected an error for an unmatched path")
	}
}

func intPtr(n int) *int { return &n }
