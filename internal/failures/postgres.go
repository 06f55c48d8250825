package failures

import (
	"context"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/postgres"
)

type failureInserter interface {
	InsertFailure(ctx context.Context, row postgres.FailureRow) error
	Close()
}

// PostgresSink inserts entries through a postgres.FailureStore.
type PostgresSink struct {
	store failureInserter
}

// NewPostgresSink wraps store.
func NewPostgresSink(store failureInserter) *PostgresSink {
	return &PostgresSink{store: store}
}

// Record implements Sink.
func (s *PostgresSink) Record(ctx context.Context, e Entry) error {
	return s.store.InsertFailure(ctx, postgres.FailureRow{
		RunID:      e.RunID,
		RecordedAt: e.Time,
		DatasetID:  e.Dataset,
		Stage:      e.Stage,
		DocID:      e.DocID,
		Page:       e.Page,
		Error:      e.Error,
	})
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	s.store.Close()
	return nil
}
