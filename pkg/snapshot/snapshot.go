// Package snapshot persists projection state together with the journal
// position it is valid up to, so replay can skip re-folding the entire
// history. Snapshots are write-once: a new snapshot supersedes older ones,
// it never mutates them.
package snapshot

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoSnapshot indicates no snapshot exists for the requested type.
	ErrNoSnapshot = errors.New("no snapshot found")
	// ErrHashMismatch indicates the stored state does not match its hash.
	ErrHashMismatch = errors.New("snapshot state hash mismatch")
)

// TypeAll is the snapshot type covering all four projections.
const TypeAll = "all"

// Snapshot is one serialized projection state. Sequence is the journal
// position up to and including which State is valid.
type Snapshot struct {
	ID         string    `json:"snapshot_id"`
	Type       string    `json:"snapshot_type"`
	Sequence   uint64    `json:"sequence_number"`
	EventCount uint64    `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
	State      []byte    `json:"state_data"`
	StateHash  string    `json:"state_hash"`
}

// Store is the durable snapshot backend, queryable by "latest for type".
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	LoadLatest(ctx context.Context, snapshotType string) (*Snapshot, error)
	List(ctx context.Context, snapshotType string) ([]*Snapshot, error)
	Delete(ctx context.Context, id string) error
}
