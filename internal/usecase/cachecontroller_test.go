package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
)

func testVariantKey(path string) model.VariantKey {
	return model.VariantKey{Path: path, Options: model.TransformOptions{}, Version: model.DefaultVersion}
}

func TestCacheController_VariantHit_SkipsEdgeAndFetch(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	key := testVariantKey("/videos/clip.mp4")
	variants.entries[key.String()] = &model.Variant{Body: []byte("cached"), ContentType: "video/mp4"}

	c := NewCacheController(variants, edge, nil)
	fetchCalled := false
	result, err := c.Lookup(context.Background(), LookupInput{
		Key: key, Method: http.MethodGet, EdgeCacheKey: "/videos/clip.mp4",
		Fetch: func(ctx context.Context) (*repository.UpstreamResponse, error) {
			fetchCalled = true
			return nil, errors.New("should not be called")
		},
	})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if result.Source != sourceVariant {
		t.Errorf("Source = %q, want %q", result.Source, sourceVariant)
	}
	if string(result.Body) != "cached" {
		t.Errorf("Body = %q", result.Body)
	}
	if fetchCalled {
		t.Error("Fetch should not be called on a variant hit")
	}
}

func TestCacheController_EdgeHit_SkipsFetch(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	edge.entries["/videos/clip.mp4"] = &repository.CachedResponse{Status: http.StatusOK, Header: http.Header{}, Body: []byte("edge-body")}

	c := NewCacheController(variants, edge, nil)
	result, err := c.Lookup(context.Background(), LookupInput{
		Key: testVariantKey("/videos/clip.mp4"), Method: http.MethodGet, EdgeCacheKey: "/videos/clip.mp4",
		Fetch: func(ctx context.Context) (*repository.UpstreamResponse, error) {
			return nil, errors.New("should not be called")
		},
	})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if result.Source != sourceEdge {
		t.Errorf("Source = %q, want %q", result.Source, sourceEdge)
	}
	if string(result.Body) != "edge-body" {
		t.Errorf("Body = %q", result.Body)
	}
}

func TestCacheController_Miss_FetchesAndWritesBackSynchronously(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	c := NewCacheController(variants, edge, nil)
	key := testVariantKey("/videos/clip.mp4")

	result, err := c.Lookup(context.Background(), LookupInput{
		Key: key, Method: http.MethodGet, EdgeCacheKey: "/videos/clip.mp4",
		ContentType: "video/mp4", TTLPolicy: model.CacheTTLPolicy{OK: 300},
		Fetch: func(ctx context.Context) (*repository.UpstreamResponse, error) {
			return &repository.UpstreamResponse{Status: http.StatusOK, Header: http.Header{}, Body: []byte("origin-body")}, nil
		},
	})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if result.Source != sourceOrigin {
		t.Errorf("Source = %q, want %q", result.Source, sourceOrigin)
	}
	if _, ok := edge.entries["/videos/clip.mp4"]; !ok {
		t.Error("expected edge cache to be populated synchronously")
	}
	if _, err := variants.Get(context.Background(), key); err != nil {
		t.Error("expected variant store to be populated synchronously")
	}
}

func TestCacheController_NonCacheableContentType_SkipsWriteBack(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	c := NewCacheController(variants, edge, nil)
	key := testVariantKey("/videos/clip.mp4")

	_, err := c.Lookup(context.Background(), LookupInput{
		Key: key, Method: http.MethodGet, EdgeCacheKey: "/videos/clip.mp4",
		ContentType: "application/json", TTLPolicy: model.CacheTTLPolicy{OK: 300},
		Fetch: func(ctx context.Context) (*repository.UpstreamResponse, error) {
			return &repository.UpstreamResponse{Status: http.StatusOK, Header: http.Header{}, Body: []byte("origin-body")}, nil
		},
	})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if _, ok := edge.entries["/videos/clip.mp4"]; ok {
		t.Error("expected edge cache NOT to be populated for a non-cacheable content type")
	}
	if _, err := variants.Get(context.Background(), key); err == nil {
		t.Error("expected variant store NOT to be populated for a non-cacheable content type")
	}
}

func TestCacheController_HeadRequest_SkipsEdgeTier(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	edge.entries["/videos/clip.mp4"] = &repository.CachedResponse{Status: http.StatusOK, Body: []byte("should-be-ignored")}

	c := NewCacheController(variants, edge, nil)
	fetched := false
	result, err := c.Lookup(context.Background(), LookupInput{
		Key: testVariantKey("/videos/clip.mp4"), Method: http.MethodHead, EdgeCacheKey: "/videos/clip.mp4",
		ContentType: "video/mp4", TTLPolicy: model.CacheTTLPolicy{OK: 300},
		Fetch: func(ctx context.Context) (*repository.UpstreamResponse, error) {
			fetched = true
			return &repository.UpstreamResponse{Status: http.StatusOK, Header: http.Header{}, Body: nil}, nil
		},
	})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !fetched {
		t.Error("expected HEAD to bypass the edge tier and reach Fetch")
	}
	if result.Source != sourceOrigin {
		t.Errorf("Source = %q, want %q", result.Source, sourceOrigin)
	}
}

func TestCacheController_BackgroundQueue_PublishesTasksInsteadOfWritingSynchronously(t *testing.T) {
	variants := newFakeVariantStore()
	edge := newFakeEdgeCache()
	queue := &fakePublishQueue{}
	c := NewCacheController(variants, edge, queue)
	key := testVariantKey("/videos/clip.mp4")

	_, err := c.Lookup(context.Background(), LookupInput{
		Key: key, Method: http.MethodGet, EdgeCacheKey: "/videos/clip.mp4",
		ContentType: "video/mp4", TTLPolicy: model.CacheTTLPolicy{OK: 300},
		Fetch: func(ctx context.Context) (*repository.UpstreamResponse, error) {
			return &repository.UpstreamResponse{Status: http.StatusOK, Header: http.Header{}, Body: []byte("origin-body")}, nil
		},
	})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if _, ok := edge.entries["/videos/clip.mp4"]; ok {
		t.Error("expected edge cache NOT to be written synchronously when a queue is configured")
	}
	if len(queue.tasks) != 2 {
		t.Fatalf("expected 2 published tasks (edge + variant), got %d", len(queue.tasks))
	}
}

type fakePublishQueue struct {
	tasks []repository.BackgroundTask
}

func (f *fakePublishQueue) PublishTask(ctx context.Context, task repository.BackgroundTask) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakePublishQueue) ConsumeTasks(ctx context.Context, handler func(repository.BackgroundTask) error) error {
	return nil
}

func (f *fakePublishQueue) Close() error { return nil }
