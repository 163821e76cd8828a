package repository

import "errors"

var (
	// ErrObjectNotFound is returned when an object cannot be found in storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the specified bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrVariantMiss is returned by VariantStore.Get when no entry exists
	// for a key.
	ErrVariantMiss = errors.New("variant miss")

	// ErrVariantCorrupt is returned by VariantStore.Get when an entry
	// exists but fails integrity verification (V1/V2).
	ErrVariantCorrupt = errors.New("variant corrupt")

	// ErrEdgeCacheMiss is returned by EdgeCache.Get when no entry exists
	// for a request key.
	ErrEdgeCacheMiss = errors.New("edge cache miss")

	// ErrPresignMiss is returned by PresignCache.Get when no fresh entry
	// exists for a key.
	ErrPresignMiss = errors.New("presigned entry miss")
)
