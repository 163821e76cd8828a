package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
)

// versionKeyPrefix matches the KV namespace documented in spec.md §6:
// VIDEO_CACHE_KEY_VERSIONS, keys `version-{sanitized-cache-key}`.
const versionKeyPrefix = "version-"

// VersionStore implements repository.VersionStore using a Redis hash per
// key: version/createdAt/updatedAt fields, read with a single HGETALL to
// minimize retrieval cost (§4.8).
type VersionStore struct {
	client *redis.Client
	now    func() int64
}

var _ repository.VersionStore = (*VersionStore)(nil)

// NewVersionStore creates a new Redis-backed version service.
func NewVersionStore(client *redis.Client) *VersionStore {
	return &VersionStore{client: client, now: func() int64 { return time.Now().Unix() }}
}

// Read returns the current version for key, or model.DefaultVersion if
// the key has never been written.
func (s *VersionStore) Read(ctx context.Context, key string) (int, error) {
	rec, ok, err := s.load(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return model.DefaultVersion, nil
	}
	return rec.Version, nil
}

// Next returns the version for key. With forceIncrement false it returns
// the current value unchanged (absent keys report 1 without writing);
// with forceIncrement true it always writes back current+1 and returns
// that, even for an absent key (current=DefaultVersion, so the first
// forced increment persists and returns DefaultVersion+1) — required for
// P4 (version monotonicity) and for a version bump to actually bust the
// VariantKey.
func (s *VersionStore) Next(ctx context.Context, key string, forceIncrement bool) (int, error) {
	rec, ok, err := s.load(ctx, key)
	if err != nil {
		return 0, err
	}

	now := s.now()
	if !ok {
		if !forceIncrement {
			return model.DefaultVersion, nil
		}
		rec = model.VersionRecord{Version: model.DefaultVersion, CreatedAt: now}
		rec.Version++
	} else if forceIncrement {
		rec.Version++
	} else {
		return rec.Version, nil
	}
	rec.UpdatedAt = now

	if err := s.store(ctx, key, rec); err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// Reset clears key's stored version entirely.
func (s *VersionStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, versionKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *VersionStore) load(ctx context.Context, key string) (model.VersionRecord, bool, error) {
	result, err := s.client.HGetAll(ctx, versionKeyPrefix+key).Result()
	if err != nil {
		return model.VersionRecord{}, false, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(result) == 0 {
		return model.VersionRecord{}, false, nil
	}

	var rec model.VersionRecord
	fmt.Sscanf(result["version"], "%d", &rec.Version)
	fmt.Sscanf(result["createdAt"], "%d", &rec.CreatedAt)
	fmt.Sscanf(result["updatedAt"], "%d", &rec.UpdatedAt)
	return rec, true, nil
}

func (s *VersionStore) store(ctx context.Context, key string, rec model.VersionRecord) error {
	err := s.client.HSet(ctx, versionKeyPrefix+key, map[string]interface{}{
		"version":   rec.Version,
		"createdAt": rec.CreatedAt,
		"updatedAt": rec.UpdatedAt,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}
