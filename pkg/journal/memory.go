package journal

import (
	"context"
	"sync"

	"github.com/tallylabs/creditcore/pkg/event"
)

// MemoryJournal is the reference implementation used in tests and as the
// model the durable backends must match.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []*event.Envelope
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{events: make([]*event.Envelope, 0)}
}

// Append implements Journal.
func (j *MemoryJournal) Append(ctx context.Context, env *event.Envelope) (uint64, error) {
	if err := env.Validate(); err != nil {
		return 0, err
	}
	if env.Sequence != 0 {
		return 0, event.ErrStorageFieldsSet
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	stored := env.Clone()
	stored.Sequence = uint64(len(j.events)) + 1
	j.events = append(j.events, stored)
	env.Sequence = stored.Sequence
	return stored.Sequence, nil
}

// Read implements Journal.
func (j *MemoryJournal) Read(ctx context.Context, afterSeq uint64, limit int) ([]*event.Envelope, error) {
	limit = normalizeLimit(limit)

	j.mu.RLock()
	defer j.mu.RUnlock()

	if afterSeq >= uint64(len(j.events)) {
		return []*event.Envelope{}, nil
	}

	end := afterSeq + uint64(limit)
	if end > uint64(len(j.events)) {
		end = uint64(len(j.events))
	}

	out := make([]*event.Envelope, 0, end-afterSeq)
	for _, e := range j.events[afterSeq:end] {
		out = append(out, e.Clone())
	}
	return out, nil
}

// Rewrite replaces the stored payload and schema version of the event at
// env.Sequence. Bulk schema migrations only.
func (j *MemoryJournal) Rewrite(ctx context.Context, env *event.Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if env.Sequence == 0 || env.Sequence > uint64(len(j.events)) {
		return ErrNotFound
	}
	stored := j.events[env.Sequence-1]
	stored.SchemaVersion = env.SchemaVersion
	stored.Payload = append([]byte(nil), env.Payload...)
	return nil
}

// LastSequence implements Journal.
func (j *MemoryJournal) LastSequence(ctx context.Context) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(len(j.events)), nil
}
