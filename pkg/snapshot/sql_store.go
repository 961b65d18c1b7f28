package snapshot

import (
	"context"
	"database/sql"
	"errors"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS projection_snapshots (
	snapshot_id TEXT PRIMARY KEY,
	snapshot_type TEXT NOT NULL,
	sequence_number BIGINT NOT NULL,
	event_count BIGINT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	state_data TEXT NOT NULL,
	state_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projection_snapshots_type ON projection_snapshots (snapshot_type, sequence_number);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, snapshotSchema)
	return err
}

// Save implements Store. Snapshots are write-once; duplicate ids fail on
// the primary key.
func (s *SQLStore) Save(ctx context.Context, snap *Snapshot) error {
	query := `
		INSERT INTO projection_snapshots (snapshot_id, snapshot_type, sequence_number, event_count, created_at, state_data, state_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.Type, int64(snap.Sequence), int64(snap.EventCount),
		snap.CreatedAt, string(snap.State), snap.StateHash,
	)
	return err
}

// LoadLatest implements Store.
func (s *SQLStore) LoadLatest(ctx context.Context, snapshotType string) (*Snapshot, error) {
	query := `
		SELECT snapshot_id, snapshot_type, sequence_number, event_count, created_at, state_data, state_hash
		FROM projection_snapshots
		WHERE snapshot_type = $1
		ORDER BY sequence_number DESC, created_at DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, snapshotType)
	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	return snap, err
}

// List implements Store, newest first.
func (s *SQLStore) List(ctx context.Context, snapshotType string) ([]*Snapshot, error) {
	query := `
		SELECT snapshot_id, snapshot_type, sequence_number, event_count, created_at, state_data, state_hash
		FROM projection_snapshots
		WHERE snapshot_type = $1
		ORDER BY sequence_number DESC, created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, snapshotType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM projection_snapshots WHERE snapshot_id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func scanSnapshot(scan func(dest ...any) error) (*Snapshot, error) {
	var (
		snap       Snapshot
		seq, count int64
		state      string
	)
	if err := scan(&snap.ID, &snap.Type, &seq, &count, &snap.CreatedAt, &state, &snap.StateHash); err != nil {
		return nil, err
	}
	snap.Sequence = uint64(seq)
	snap.EventCount = uint64(count)
	snap.State = []byte(state)
	return &snap, nil
}
