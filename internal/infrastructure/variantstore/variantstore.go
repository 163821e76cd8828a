// Package variantstore implements the KV Variant Store (C7): a
// content-addressed store for transformed variants, chunked for large
// bodies, backed by the object-storage port (Minio in production).
package variantstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
)

// chunkSize is the fixed chunk size chosen so that no chunk exceeds the
// per-object ceiling.
const chunkSize int64 = 8 << 20 // 8 MiB

// singlePartCeiling is the per-object ceiling: bodies at or below this
// size are stored single-part; larger bodies are chunked.
const singlePartCeiling int64 = 8 << 20 // 8 MiB

const manifestContentType = "application/x-edgevid-variant-manifest"

// manifestDoc is the JSON body written for a chunked object's manifest
// entry. It is written strictly after all chunks (§4.7, §5 ordering).
type manifestDoc struct {
	TotalSize   int64    `json:"total_size"`
	ChunkCount  int      `json:"chunk_count"`
	ChunkSize   int64    `json:"chunk_size"`
	ContentType string   `json:"content_type"`
	SHA256      string   `json:"sha256"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	TTLSeconds  int      `json:"ttl_seconds"`
}

// singlePartDoc is the metadata accompanying a single-part object; the
// object body itself is the variant's body, with this metadata recorded
// as a sidecar key since the ObjectStorage port has no custom-metadata
// support beyond Content-Type.
type singlePartDoc struct {
	Size        int64    `json:"size"`
	ContentType string   `json:"content_type"`
	SHA256      string   `json:"sha256"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	TTLSeconds  int      `json:"ttl_seconds"`
}

// refreshFraction is the configurable fraction of §4.7's TTL refresh
// policy: a read past this fraction of the entry's TTL triggers an
// asynchronous re-write with extended TTL.
const refreshFraction = 0.75

// Store implements repository.VariantStore.
type Store struct {
	objects repository.ObjectStorage
	queue   repository.MessageQueue
	now     func() int64
}

var _ repository.VariantStore = (*Store)(nil)

// New creates a Store backed by objects. queue may be nil, in which case
// TTL-refresh tasks are skipped rather than published (the cmd/api and
// cmd/worker wiring both supply a queue; ad hoc callers and tests may omit one).
func New(objects repository.ObjectStorage, queue repository.MessageQueue) *Store {
	return &Store{objects: objects, queue: queue, now: func() int64 { return time.Now().Unix() }}
}

func manifestKey(key model.VariantKey) string  { return "variant:" + key.String() }
func sidecarKey(key model.VariantKey) string   { return "variant:" + key.String() + ":meta" }
func chunkKey(key model.VariantKey, i int) string {
	return fmt.Sprintf("variant:%s:chunk:%d", key.String(), i)
}

// Put writes body under key, choosing single-part or chunked encoding
// per the selection rule in §4.7.
func (s *Store) Put(ctx context.Context, key model.VariantKey, body []byte, contentType string, tags []string, ttlSeconds int) error {
	sha := model.SHA256Hex(body)

	if int64(len(body)) <= singlePartCeiling {
		return s.putSinglePart(ctx, key, body, contentType, sha, tags, ttlSeconds)
	}
	return s.putChunked(ctx, key, body, contentType, sha, tags, ttlSeconds)
}

func (s *Store) putSinglePart(ctx context.Context, key model.VariantKey, body []byte, contentType, sha string, tags []string, ttlSeconds int) error {
	if err := s.objects.Upload(ctx, manifestKey(key), newReader(body), contentType); err != nil {
		return fmt.Errorf("upload single-part body: %w", err)
	}

	meta := singlePartDoc{Size: int64(len(body)), ContentType: contentType, SHA256: sha, Tags: tags, CreatedAt: s.now(), TTLSeconds: ttlSeconds}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal single-part metadata: %w", err)
	}
	if err := s.objects.Upload(ctx, sidecarKey(key), newReader(data), "application/json"); err != nil {
		return fmt.Errorf("upload single-part metadata: %w", err)
	}
	return nil
}

// putChunked writes all chunks first; the manifest is written last so
// that a crash before it completes leaves only orphan chunks, which TTL
// out, and a present manifest always implies all chunks exist (V1/P3).
func (s *Store) putChunked(ctx context.Context, key model.VariantKey, body []byte, contentType, sha string, tags []string, ttlSeconds int) error {
	total := int64(len(body))
	chunkCount := int((total + chunkSize - 1) / chunkSize)

	for i := 0; i < chunkCount; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > total {
			end = total
		}
		if err := s.objects.Upload(ctx, chunkKey(key, i), newReader(body[start:end]), "application/octet-stream"); err != nil {
			return fmt.Errorf("upload chunk %d: %w", i, err)
		}
	}

	manifest := manifestDoc{
		TotalSize:   total,
		ChunkCount:  chunkCount,
		ChunkSize:   chunkSize,
		ContentType: contentType,
		SHA256:      sha,
		Tags:        tags,
		CreatedAt:   s.now(),
		TTLSeconds:  ttlSeconds,
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := s.objects.Upload(ctx, manifestKey(key), newReader(data), manifestContentType); err != nil {
		return fmt.Errorf("upload manifest: %w", err)
	}
	return nil
}

// Get returns the full assembled Variant for key.
func (s *Store) Get(ctx context.Context, key model.VariantKey) (*model.Variant, error) {
	info, err := s.objects.Stat(ctx, manifestKey(key))
	if err != nil {
		return nil, repository.ErrVariantMiss
	}

	if info.ContentType == manifestContentType {
		return s.getChunked(ctx, key)
	}
	return s.getSinglePart(ctx, key, info)
}

// maybeRefresh publishes a TaskRevalidateVariant once age exceeds
// refreshFraction of ttlSeconds, so readers never block on the rewrite.
func (s *Store) maybeRefresh(ctx context.Context, key model.VariantKey, createdAt int64, ttlSeconds int) {
	if s.queue == nil || ttlSeconds <= 0 {
		return
	}
	age := s.now() - createdAt
	if float64(age) <= refreshFraction*float64(ttlSeconds) {
		return
	}
	task := repository.BackgroundTask{Kind: repository.TaskRevalidateVariant, Key: key.String(), TTLSeconds: ttlSeconds}
	if err := s.queue.PublishTask(ctx, task); err != nil {
		slog.Warn("failed to publish variant refresh task", "key", key.String(), "error", err)
	}
}

func (s *Store) getSinglePart(ctx context.Context, key model.VariantKey, info repository.ObjectInfo) (*model.Variant, error) {
	meta, err := s.readSidecar(ctx, key)
	if err != nil {
		return nil, repository.ErrVariantMiss
	}

	body, err := s.readAll(ctx, manifestKey(key))
	if err != nil {
		return nil, repository.ErrVariantMiss
	}
	if int64(len(body)) != meta.Size {
		return nil, repository.ErrVariantCorrupt
	}
	if model.SHA256Hex(body) != meta.SHA256 {
		return nil, repository.ErrVariantCorrupt
	}

	s.maybeRefresh(ctx, key, meta.CreatedAt, meta.TTLSeconds)

	return &model.Variant{
		Body:          body,
		ContentType:   meta.ContentType,
		ContentLength: meta.Size,
		Tags:          meta.Tags,
		ExpiresAt:     meta.CreatedAt + int64(meta.TTLSeconds),
	}, nil
}

func (s *Store) getChunked(ctx context.Context, key model.VariantKey) (*model.Variant, error) {
	manifest, err := s.readManifest(ctx, key)
	if err != nil {
		return nil, repository.ErrVariantMiss
	}

	assembled := make([]byte, 0, manifest.TotalSize)
	for i := 0; i < manifest.ChunkCount; i++ {
		chunk, err := s.readAll(ctx, chunkKey(key, i))
		if err != nil {
			return nil, repository.ErrVariantCorrupt
		}
		assembled = append(assembled, chunk...)
	}

	if int64(len(assembled)) != manifest.TotalSize {
		return nil, repository.ErrVariantCorrupt
	}
	if model.SHA256Hex(assembled) != manifest.SHA256 {
		return nil, repository.ErrVariantCorrupt
	}

	s.maybeRefresh(ctx, key, manifest.CreatedAt, manifest.TTLSeconds)

	return &model.Variant{
		Body:          assembled,
		ContentType:   manifest.ContentType,
		ContentLength: manifest.TotalSize,
		Tags:          manifest.Tags,
		ExpiresAt:     manifest.CreatedAt + int64(manifest.TTLSeconds),
		Manifest: &model.Manifest{
			Type:        model.ChunkTypeChunked,
			TotalSize:   manifest.TotalSize,
			ChunkCount:  manifest.ChunkCount,
			ChunkSize:   manifest.ChunkSize,
			ContentType: manifest.ContentType,
			SHA256:      manifest.SHA256,
		},
	}, nil
}

// GetRange returns only the bytes overlapping [start, end], reading only
// the chunks that overlap the range for chunked variants rather than
// assembling the whole body (§4.7 read protocol step 4).
func (s *Store) GetRange(ctx context.Context, key model.VariantKey, start, end int64) ([]byte, int64, error) {
	info, err := s.objects.Stat(ctx, manifestKey(key))
	if err != nil {
		return nil, 0, repository.ErrVariantMiss
	}

	if info.ContentType != manifestContentType {
		variant, err := s.getSinglePart(ctx, key, info)
		if err != nil {
			return nil, 0, err
		}
		if end >= int64(len(variant.Body)) {
			end = int64(len(variant.Body)) - 1
		}
		return variant.Body[start : end+1], variant.ContentLength, nil
	}

	manifest, err := s.readManifest(ctx, key)
	if err != nil {
		return nil, 0, repository.ErrVariantMiss
	}
	if end >= manifest.TotalSize {
		end = manifest.TotalSize - 1
	}

	firstChunk := int(start / manifest.ChunkSize)
	lastChunk := int(end / manifest.ChunkSize)

	out := make([]byte, 0, end-start+1)
	for i := firstChunk; i <= lastChunk; i++ {
		chunk, err := s.readAll(ctx, chunkKey(key, i))
		if err != nil {
			return nil, 0, repository.ErrVariantCorrupt
		}
		chunkStart := int64(i) * manifest.ChunkSize
		lo := int64(0)
		hi := int64(len(chunk))
		if i == firstChunk {
			lo = start - chunkStart
		}
		if i == lastChunk {
			hi = end - chunkStart + 1
		}
		out = append(out, chunk[lo:hi]...)
	}
	return out, manifest.TotalSize, nil
}

// Stat returns key's metadata without reading its body or chunks.
func (s *Store) Stat(ctx context.Context, key model.VariantKey) (*model.Variant, error) {
	info, err := s.objects.Stat(ctx, manifestKey(key))
	if err != nil {
		return nil, repository.ErrVariantMiss
	}

	if info.ContentType != manifestContentType {
		meta, err := s.readSidecar(ctx, key)
		if err != nil {
			return nil, repository.ErrVariantCorrupt
		}
		return &model.Variant{
			ContentType:   meta.ContentType,
			ContentLength: meta.Size,
			Tags:          meta.Tags,
			ExpiresAt:     meta.CreatedAt + int64(meta.TTLSeconds),
		}, nil
	}

	manifest, err := s.readManifest(ctx, key)
	if err != nil {
		return nil, repository.ErrVariantCorrupt
	}
	return &model.Variant{
		ContentType:   manifest.ContentType,
		ContentLength: manifest.TotalSize,
		Tags:          manifest.Tags,
		ExpiresAt:     manifest.CreatedAt + int64(manifest.TTLSeconds),
		Manifest: &model.Manifest{
			Type:        model.ChunkTypeChunked,
			TotalSize:   manifest.TotalSize,
			ChunkCount:  manifest.ChunkCount,
			ChunkSize:   manifest.ChunkSize,
			ContentType: manifest.ContentType,
			SHA256:      manifest.SHA256,
		},
	}, nil
}

func (s *Store) readManifest(ctx context.Context, key model.VariantKey) (manifestDoc, error) {
	data, err := s.readAll(ctx, manifestKey(key))
	if err != nil {
		return manifestDoc{}, err
	}
	var m manifestDoc
	if err := json.Unmarshal(data, &m); err != nil {
		return manifestDoc{}, err
	}
	return m, nil
}

func (s *Store) readSidecar(ctx context.Context, key model.VariantKey) (singlePartDoc, error) {
	data, err := s.readAll(ctx, sidecarKey(key))
	if err != nil {
		return singlePartDoc{}, err
	}
	var m singlePartDoc
	if err := json.Unmarshal(data, &m); err != nil {
		return singlePartDoc{}, err
	}
	return m, nil
}

func (s *Store) readAll(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.objects.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func newReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
