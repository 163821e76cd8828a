package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/edgevid/proxy/internal/domain/repository"
)

func TestFallbackEventRepository_Record(t *testing.T) {
	tests := []struct {
		name    string
		ev      repository.FallbackEvent
		mockFn  func(mock pgxmock.PgxPoolIface, ev repository.FallbackEvent)
		wantErr bool
	}{
		{
			name: "successful insert",
			ev: repository.FallbackEvent{
				Path:      "/videos/abc123.mp4",
				Step:      "direct_origin",
				ErrorKind: "upstream_timeout",
				Status:    502,
				ElapsedMS: 1200,
				CreatedAt: 1700000000,
			},
			mockFn: func(mock pgxmock.PgxPoolIface, ev repository.FallbackEvent) {
				mock.ExpectExec("INSERT INTO fallback_events").
					WithArgs(ev.Path, ev.Step, ev.ErrorKind, ev.Status, ev.ElapsedMS, ev.CreatedAt).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			wantErr: false,
		},
		{
			name: "database error is surfaced but callers treat it as non-fatal",
			ev: repository.FallbackEvent{
				Path:      "/videos/abc123.mp4",
				Step:      "storage_service",
				ErrorKind: "object_not_found",
				Status:    404,
				ElapsedMS: 40,
				CreatedAt: 1700000001,
			},
			mockFn: func(mock pgxmock.PgxPoolIface, ev repository.FallbackEvent) {
				mock.ExpectExec("INSERT INTO fallback_events").
					WithArgs(ev.Path, ev.Step, ev.ErrorKind, ev.Status, ev.ElapsedMS, ev.CreatedAt).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer mock.Close()

			tt.mockFn(mock, tt.ev)

			repo := NewFallbackEventRepository(mock)
			err = repo.Record(context.Background(), tt.ev)

			if (err != nil) != tt.wantErr {
				t.Errorf("Record() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
