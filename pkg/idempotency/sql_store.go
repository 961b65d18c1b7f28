package idempotency

import (
	"context"
	"database/sql"
	"time"
)

// SQLStore implements MarkerStore using database/sql.
// It supports both Postgres and SQLite via standard drivers; both honor
// ON CONFLICT DO NOTHING against the composite primary key, which is the
// atomic insert-or-fail-on-duplicate this design relies on.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const markerSchema = `
CREATE TABLE IF NOT EXISTS processed_events (
	subscriber_name TEXT NOT NULL,
	trace_id TEXT NOT NULL,
	tenant_id TEXT,
	event_type TEXT,
	processed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (subscriber_name, trace_id)
);
CREATE INDEX IF NOT EXISTS idx_processed_events_tenant ON processed_events (tenant_id);
CREATE INDEX IF NOT EXISTS idx_processed_events_type ON processed_events (event_type);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, markerSchema)
	return err
}

// Insert implements MarkerStore. RowsAffected distinguishes a fresh insert
// from a suppressed duplicate.
func (s *SQLStore) Insert(ctx context.Context, m Marker) (bool, error) {
	query := `
		INSERT INTO processed_events (subscriber_name, trace_id, tenant_id, event_type, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subscriber_name, trace_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		m.SubscriberName, m.TraceID, m.TenantID, m.EventType, time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Delete implements MarkerStore.
func (s *SQLStore) Delete(ctx context.Context, subscriberName, traceID string) error {
	query := `DELETE FROM processed_events WHERE subscriber_name = $1 AND trace_id = $2`
	_, err := s.db.ExecContext(ctx, query, subscriberName, traceID)
	return err
}
