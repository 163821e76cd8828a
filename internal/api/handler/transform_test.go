package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/edgevid/proxy/internal/configstore"
	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
	"github.com/edgevid/proxy/internal/usecase"
)

type fakeSnapshotter struct{ snap *configstore.Snapshot }

func (f *fakeSnapshotter) Snapshot() *configstore.Snapshot { return f.snap }

type fakeVariantStore struct{ entries map[string]*model.Variant }

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

type fakeEdgeCache struct{ entries map[string]*repository.CachedResponse }

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

type fakeVersionStore struct{}

func (fakeVersionStore) Read(ctx context.Context, key string) (int, error) {
	return model.DefaultVersion, nil
}
func (fakeVersionStore) Next(ctx context.Context, key string, force bool) (int, error) {
	return model.DefaultVersion, nil
}
func (fakeVersionStore) Reset(ctx context.Context, key string) error { return nil }

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

func newTestHandler(variants *fakeVariantStore, edge *fakeEdgeCache, upstream *fakeTransformer) *TransformHandler {
	snap := &configstore.Snapshot{
		Patterns:    []*model.PathPattern{testPattern()},
		Derivatives: map[string]model.Derivative{"medium": {Name: "medium", Width: 854, Height: 480}},
		DefaultTTL:  model.CacheTTLPolicy{OK: 300, ClientError: 10, ServerError: 0},
	}
	cache := usecase.NewCacheController(variants, edge, nil)
	fallback := usecase.NewEngine()
	svc := usecase.NewTransformService(
		&fakeSnapshotter{snap: snap},
		fakeVersionStore{}, variants, cache, fallback, upstream,
		nil, nil, nil,
		"https", "transform.example.com", "/transform",
	)
	return NewTransformHandler(svc)
}

func TestTransformHandler_ColdCache_SetsCacheTagAndControl(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{responses: []*repository.UpstreamResponse{
		{Status: http.StatusOK, Header: http.Header{"Content-Type": {"video/mp4"}}, Body: []byte("transformed-bytes")},
	}}
	h := newTestHandler(variants, edge, upstream)

	req := httptest.NewRequest(http.MethodGet, "/videos/clip.mp4?derivative=medium", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "transformed-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	tag := rec.Header().Get("Cache-Tag")
	for _, want := range []string{"video-derivative-medium", "video-path-videos-clip-mp4"} {
		if !contains(tag, want) {
			t.Errorf("Cache-Tag = %q, missing %q", tag, want)
		}
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Errorf("Accept-Ranges = %q", rec.Header().Get("Accept-Ranges"))
	}
}

func TestTransformHandler_RangeOverWarmVariant(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{}
	h := newTestHandler(variants, edge, upstream)

	key := model.VariantKey{Path: "/clip.mp4", Options: model.TransformOptions{Mode: model.ModeVideo}, Version: model.DefaultVersion}
	variants.entries[key.String()] = &model.Variant{Body: []byte("0123456789"), ContentType: "video/mp4", ContentLength: 10}

	req := httptest.NewRequest(http.MethodGet, "/videos/clip.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "2345" {
		t.Errorf("body = %q, want 2345", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestTransformHandler_UnsatisfiableRange(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{}
	h := newTestHandler(variants, edge, upstream)

	key := model.VariantKey{Path: "/clip.mp4", Options: model.TransformOptions{Mode: model.ModeVideo}, Version: model.DefaultVersion}
	variants.entries[key.String()] = &model.Variant{Body: []byte("0123456789"), ContentType: "video/mp4", ContentLength: 10}

	req := httptest.NewRequest(http.MethodGet, "/videos/clip.mp4", nil)
	req.Header.Set("Range", "bytes=50-60")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
}

func TestTransformHandler_NoMatchingPattern_Returns404(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{}
	h := newTestHandler(variants, edge, upstream)

	req := httptest.NewRequest(http.MethodGet, "/unmatched/path", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body=%s", rec.Code, rec.Body.String())
	}
}

func TestTransformHandler_FallbackChain_SetsDiagnosticHeaders(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{responses: []*repository.UpstreamResponse{
		{Status: http.StatusInternalServerError, Header: http.Header{}, Body: []byte(`{"errorType":"ServerError"}`)},
		{Status: http.StatusOK, Header: http.Header{"Content-Type": {"video/mp4"}}, Body: []byte("direct-fetch-bytes")},
	}}
	h := newTestHandler(variants, edge, upstream)

	req := httptest.NewRequest(http.MethodGet, "/videos/clip.mp4", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "direct-fetch-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Direct-Source-Used") != "true" {
		t.Errorf("expected X-Direct-Source-Used header, got %v", rec.Header())
	}
}

func TestTransformHandler_DebugRequest_EmitsHTML(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	upstream := &fakeTransformer{responses: []*repository.UpstreamResponse{
		{Status: http.StatusOK, Header: http.Header{"Content-Type": {"video/mp4"}}, Body: []byte("transformed-bytes")},
	}}
	h := newTestHandler(variants, edge, upstream)

	req := httptest.NewRequest(http.MethodGet, "/videos/clip.mp4?debug=view", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !contains(rec.Body.String(), "diagnostics") {
		t.Errorf("expected debug HTML to contain diagnostics marker, got %q", rec.Body.String())
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (substr == "" || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
