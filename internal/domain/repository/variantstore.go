package repository

import (
	"context"

	"github.com/edgevid/proxy/internal/domain/model"
)

// VariantStore is the C7 KV Variant Store port: content-addressed storage
// for transformed variants, chunked for large bodies, with manifest-last
// write ordering and integrity verification on read.
type VariantStore interface {
	// Get returns the full assembled Variant for key. Returns
	// ErrVariantMiss if absent, ErrVariantCorrupt if any integrity check
	// fails (V1/V2) — callers must treat both identically as "fall
	// through to origin".
	Get(ctx context.Context, key model.VariantKey) (*model.Variant, error)

	// GetRange returns only the bytes overlapping [start, end] (inclusive)
	// without assembling the full body, for chunked range synthesis
	// (§4.7 read protocol step 4). total is the variant's full size.
	GetRange(ctx context.Context, key model.VariantKey, start, end int64) (body []byte, total int64, err error)

	// Put writes body under key with the given TTL, choosing single-part
	// or chunked encoding per the selection rule in §4.7.
	Put(ctx context.Context, key model.VariantKey, body []byte, contentType string, tags []string, ttlSeconds int) error

	// Stat returns a Variant's metadata (content type, length, tags,
	// expiry, manifest shape) without downloading its body or chunks, for
	// the Range fast path (§4.7 read protocol step 4): a byte-range read
	// only needs total size up front, not the full assembled body.
	// Returns ErrVariantMiss if absent, ErrVariantCorrupt if the metadata
	// itself cannot be read.
	Stat(ctx context.Context, key model.VariantKey) (*model.Variant, error)
}
