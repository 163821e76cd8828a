package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edgevid/proxy/internal/domain/repository"
)

// FallbackEventRepository persists FallbackEngine audit rows (C10's
// fire-and-forget telemetry, supplementing the original distillation's
// silent fallback decisions with a queryable record).
type FallbackEventRepository struct {
	db execer
}

// execer is the minimal surface fallbackevents needs — just Exec, since
// it never queries its own rows back out at request time.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// NewFallbackEventRepository creates a repository backed by db.
func NewFallbackEventRepository(db execer) *FallbackEventRepository {
	return &FallbackEventRepository{db: db}
}

// Record inserts ev. Per repository.FallbackEventRepository's contract,
// callers must treat the returned error as non-fatal telemetry failure —
// this method never blocks or retries, it returns promptly either way.
func (r *FallbackEventRepository) Record(ctx context.Context, ev repository.FallbackEvent) error {
	const query = `
		INSERT INTO fallback_events (path, step, error_kind, status, elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, to_timestamp($6))
	`
	_, err := r.db.Exec(ctx, query, ev.Path, ev.Step, ev.ErrorKind, ev.Status, ev.ElapsedMS, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("record fallback event: %w", err)
	}
	return nil
}

var _ repository.FallbackEventRepository = (*FallbackEventRepository)(nil)
