package repository

import "context"

// FallbackEvent is one audit row recording a fallback engine decision.
// Additive telemetry only; never gates or delays the response path.
type FallbackEvent struct {
	Path      string
	Step      string
	ErrorKind string
	Status    int
	ElapsedMS int64
	CreatedAt int64
}

// FallbackEventRepository persists FallbackEvents for later inspection.
// Implementations must treat write failures as non-fatal to the caller.
type FallbackEventRepository interface {
	Record(ctx context.Context, ev FallbackEvent) error
}
