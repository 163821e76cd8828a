package repository

import "context"

// VersionStore is the C8 Version Service port: a monotonic version
// counter per cache key.
type VersionStore interface {
	// Read returns the current version for key, or model.DefaultVersion
	// if the key has never been written.
	Read(ctx context.Context, key string) (int, error)

	// Next returns the version for key. With forceIncrement false it
	// returns the current value unchanged; with forceIncrement true it
	// writes back current+1 and returns that.
	Next(ctx context.Context, key string, forceIncrement bool) (int, error)

	// Reset clears key's stored version entirely.
	Reset(ctx context.Context, key string) error
}
