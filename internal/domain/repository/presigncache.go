package repository

import (
	"context"

	"github.com/edgevid/proxy/internal/domain/model"
)

// PresignCache is the C5 Presigned-URL Cache port.
type PresignCache interface {
	// Get returns a fresh entry for key, or ErrPresignMiss if absent or
	// expired (readers never surface an entry with expiresAt <= now).
	Get(ctx context.Context, key string) (*model.PresignedEntry, error)

	// Put stores entry under key with TTL = EffectiveTTL(entry).
	Put(ctx context.Context, key string, entry *model.PresignedEntry) error
}
