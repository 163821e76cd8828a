// Package rediscache implements the Redis-backed stores for C5 (presigned
// URLs), C6 (edge HTTP cache), and C8 (version service) — all small
// key/TTL stores in the shape of the teacher's RedisVideoCache.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
)

const presignKeyPrefix = ""

// presignJSON is the JSON representation of a PresignedEntry for caching.
type presignJSON struct {
	FullURL       string `json:"full_url"`
	AuthTokenOnly string `json:"auth_token_only"`
	OriginalURL   string `json:"original_url"`
	CreatedAt     int64  `json:"created_at"`
	ExpiresAt     int64  `json:"expires_at"`
	Path          string `json:"path"`
	StorageType   string `json:"storage_type"`
	AuthType      string `json:"auth_type"`
	Region        string `json:"region"`
	Service       string `json:"service"`
	Version       int    `json:"version"`
}

// PresignCache implements repository.PresignCache using Redis.
type PresignCache struct {
	client *redis.Client
	now    func() int64
}

var _ repository.PresignCache = (*PresignCache)(nil)

// NewPresignCache creates a new Redis-backed presigned-URL cache.
func NewPresignCache(client *redis.Client) *PresignCache {
	return &PresignCache{client: client, now: func() int64 { return time.Now().Unix() }}
}

// Get returns a fresh entry for key. Readers treat entries with
// expiresAt <= now as absent (V3/P5), even if Redis itself hasn't
// expired the key yet.
func (c *PresignCache) Get(ctx context.Context, key string) (*model.PresignedEntry, error) {
	data, err := c.client.Get(ctx, presignKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrPresignMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := deserializePresign(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize presigned entry: %w", err)
	}
	if !entry.Fresh(c.now()) {
		return nil, repository.ErrPresignMiss
	}
	return entry, nil
}

// Put stores entry under key with TTL = EffectiveTTL(entry).
func (c *PresignCache) Put(ctx context.Context, key string, entry *model.PresignedEntry) error {
	data, err := serializePresign(entry)
	if err != nil {
		return fmt.Errorf("serialize presigned entry: %w", err)
	}

	ttl := time.Duration(model.EffectiveTTL(entry.ExpiresAt, entry.CreatedAt)) * time.Second
	if err := c.client.Set(ctx, presignKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// RefreshIfExpiring regenerates and stores entry when it is within
// thresholdSec of expiry, via the caller-supplied generate function
// (§4.5 "background refresh when near expiry").
func (c *PresignCache) RefreshIfExpiring(ctx context.Context, key string, entry *model.PresignedEntry, thresholdSec int64, generate func(ctx context.Context) (*model.PresignedEntry, error)) (*model.PresignedEntry, error) {
	if entry.ExpiresAt-c.now() > thresholdSec {
		return entry, nil
	}
	fresh, err := generate(ctx)
	if err != nil {
		return entry, err
	}
	if err := c.Put(ctx, key, fresh); err != nil {
		return fresh, err
	}
	return fresh, nil
}

func serializePresign(e *model.PresignedEntry) ([]byte, error) {
	return json.Marshal(presignJSON{
		FullURL:       e.FullURL,
		AuthTokenOnly: e.AuthTokenOnly,
		OriginalURL:   e.OriginalURL,
		CreatedAt:     e.CreatedAt,
		ExpiresAt:     e.ExpiresAt,
		Path:          e.Path,
		StorageType:   e.StorageType,
		AuthType:      e.AuthType,
		Region:        e.Region,
		Service:       e.Service,
		Version:       e.Version,
	})
}

func deserializePresign(data []byte) (*model.PresignedEntry, error) {
	var v presignJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &model.PresignedEntry{
		FullURL:       v.FullURL,
		AuthTokenOnly: v.AuthTokenOnly,
		OriginalURL:   v.OriginalURL,
		CreatedAt:     v.CreatedAt,
		ExpiresAt:     v.ExpiresAt,
		Path:          v.Path,
		StorageType:   v.StorageType,
		AuthType:      v.AuthType,
		Region:        v.Region,
		Service:       v.Service,
		Version:       v.Version,
	}, nil
}
