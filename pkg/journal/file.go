package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tallylabs/creditcore/pkg/event"
)

// FileJournal persists envelopes as one JSON document per line in an
// append-only file. The full history is kept in memory for reads; the file
// is the durable copy reloaded on open.
type FileJournal struct {
	path  string
	mu    sync.RWMutex
	tail  []*event.Envelope
	file  *os.File
	sync  bool
	clock func() time.Time
}

// FileOption customizes a file journal.
type FileOption func(*FileJournal)

// WithSync fsyncs after every append. Slower, but an acknowledged append
// survives power loss.
func WithSync() FileOption {
	return func(j *FileJournal) { j.sync = true }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) FileOption {
	return func(j *FileJournal) { j.clock = clock }
}

// OpenFileJournal opens (or creates) a journal file and loads its history.
func OpenFileJournal(path string, opts ...FileOption) (*FileJournal, error) {
	j := &FileJournal{
		path:  path,
		tail:  make([]*event.Envelope, 0),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	j.file = f
	return j, nil
}

func (j *FileJournal) load() error {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil // Start empty
	}
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var env event.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			return fmt.Errorf("corrupt journal entry at line %d: %w", line, err)
		}
		j.tail = append(j.tail, &env)
	}
	if err := scanner.Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return j.verifyOrder()
}

func (j *FileJournal) verifyOrder() error {
	for i, env := range j.tail {
		want := uint64(i) + 1
		if env.Sequence != want {
			return fmt.Errorf("journal sequence gap: entry %d has sequence %d", i, env.Sequence)
		}
	}
	return nil
}

// Close releases the underlying file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Append implements Journal.
func (j *FileJournal) Append(ctx context.Context, env *event.Envelope) (uint64, error) {
	if err := env.Validate(); err != nil {
		return 0, err
	}
	if env.Sequence != 0 {
		return 0, event.ErrStorageFieldsSet
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return 0, ErrUnavailable
	}

	stored := env.Clone()
	stored.Sequence = uint64(len(j.tail)) + 1
	if stored.OccurredAt.IsZero() {
		stored.OccurredAt = j.clock().UTC()
	}

	line, err := json.Marshal(stored)
	if err != nil {
		return 0, err
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	if j.sync {
		if err := j.file.Sync(); err != nil {
			return 0, errors.Join(ErrUnavailable, err)
		}
	}

	j.tail = append(j.tail, stored)
	env.Sequence = stored.Sequence
	return stored.Sequence, nil
}

// Read implements Journal.
func (j *FileJournal) Read(ctx context.Context, afterSeq uint64, limit int) ([]*event.Envelope, error) {
	limit = normalizeLimit(limit)

	j.mu.RLock()
	defer j.mu.RUnlock()

	if afterSeq >= uint64(len(j.tail)) {
		return []*event.Envelope{}, nil
	}
	end := afterSeq + uint64(limit)
	if end > uint64(len(j.tail)) {
		end = uint64(len(j.tail))
	}

	out := make([]*event.Envelope, 0, end-afterSeq)
	for _, e := range j.tail[afterSeq:end] {
		out = append(out, e.Clone())
	}
	return out, nil
}

// LastSequence implements Journal.
func (j *FileJournal) LastSequence(ctx context.Context) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(len(j.tail)), nil
}
