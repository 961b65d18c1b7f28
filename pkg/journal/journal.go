// Package journal provides the append-only, ordered, replayable store of
// event envelopes. The journal is the single source of truth: projections
// and snapshots are caches of a fold over its history and may be rebuilt
// at any time.
//
// Sequence numbers form one global total order assigned at append time, so
// replay reads a single linear stream and live consumption and replay agree
// on event order.
package journal

import (
	"context"
	"errors"

	"github.com/tallylabs/creditcore/pkg/event"
)

var (
	// ErrUnavailable indicates the backend cannot durably persist.
	ErrUnavailable = errors.New("journal unavailable")
	// ErrNotFound indicates no event exists at the requested position.
	ErrNotFound = errors.New("event not found")
)

// Journal is the append-only event store.
type Journal interface {
	// Append persists the envelope, assigns the next sequence number, and
	// returns it. The envelope's Sequence field is set on success.
	Append(ctx context.Context, env *event.Envelope) (uint64, error)

	// Read returns up to limit envelopes with sequence strictly greater
	// than afterSeq, in sequence order. An empty slice means no more
	// events exist yet; callers resume from the last sequence they saw.
	Read(ctx context.Context, afterSeq uint64, limit int) ([]*event.Envelope, error)

	// LastSequence returns the highest committed sequence number.
	LastSequence(ctx context.Context) (uint64, error)
}

const defaultReadLimit = 256

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultReadLimit
	}
	return limit
}
