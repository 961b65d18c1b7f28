// Package replay reconstructs projection state from the journal: load the
// latest snapshot if one is usable, fold only the delta events after its
// position, and verify the ledger invariants before the result can be
// trusted.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tallylabs/creditcore/pkg/event"
	"github.com/tallylabs/creditcore/pkg/journal"
	"github.com/tallylabs/creditcore/pkg/projection"
	"github.com/tallylabs/creditcore/pkg/snapshot"
	"github.com/tallylabs/creditcore/pkg/upcast"
)

// IntegrityError is the fatal outcome of a replay whose rebuilt ledger is
// inconsistent. It must never be swallowed: a corrupted ledger blocks
// promotion of the rebuilt projections to live.
type IntegrityError struct {
	Violations []projection.Violation
}

func (e *IntegrityError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("replay integrity check failed: %s", strings.Join(parts, "; "))
}

// Report summarizes one replay run.
type Report struct {
	TotalEvents       uint64        `json:"total_events"`
	SkippedBySnapshot uint64        `json:"events_skipped_by_snapshot"`
	Failures          uint64        `json:"failures"`
	SnapshotID        string        `json:"snapshot_id,omitempty"`
	Duration          time.Duration `json:"duration"`
	IntegrityOK       bool          `json:"integrity_ok"`
}

// Options configures the engine.
type Options struct {
	// UseSnapshots enables starting from the latest snapshot instead of
	// folding the whole journal.
	UseSnapshots bool
	// BatchSize bounds each journal read.
	BatchSize int
}

// Engine orchestrates snapshot restore plus delta fold. Promotion of the
// rebuilt state to live is the caller's decision, gated on the report.
type Engine struct {
	journal     journal.Journal
	snapshots   *snapshot.Manager
	projections *projection.Manager
	upcaster    *upcast.Registry
	opts        Options
	logger      *slog.Logger
	clock       func() time.Time
}

// NewEngine creates a replay engine. snapshots and upcaster may be nil:
// without a snapshot manager every replay is from scratch, and without an
// upcaster envelopes are folded as stored.
func NewEngine(j journal.Journal, snapshots *snapshot.Manager, projections *projection.Manager, upcaster *upcast.Registry, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	return &Engine{
		journal:     j,
		snapshots:   snapshots,
		projections: projections,
		upcaster:    upcaster,
		opts:        opts,
		logger:      logger.With("component", "replay"),
		clock:       time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// ReplayAll rebuilds all projections. The report is returned even when the
// integrity check fails so the operator sees how far the replay got.
func (e *Engine) ReplayAll(ctx context.Context) (*Report, error) {
	started := e.clock()
	report := &Report{}

	startSeq := e.restoreFromSnapshot(ctx, report)
	if startSeq == 0 {
		e.projections.ClearAll()
	}

	after := startSeq
	for {
		batch, err := e.journal.Read(ctx, after, e.opts.BatchSize)
		if err != nil {
			return report, fmt.Errorf("read journal after %d: %w", after, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, env := range batch {
			after = env.Sequence
			report.TotalEvents++
			if err := e.fold(env); err != nil {
				// One bad historical event must not halt the rebuild;
				// a slightly stale projection beats no projection.
				report.Failures++
				e.logger.Error("event fold failed, continuing",
					"sequence", env.Sequence,
					"event_id", env.EventID,
					"event_type", env.EventType,
					"error", err,
				)
			}
		}
	}

	integrity := e.projections.VerifyIntegrity()
	report.IntegrityOK = integrity.OK
	report.Duration = e.clock().Sub(started)

	if !integrity.OK {
		return report, &IntegrityError{Violations: integrity.Violations}
	}

	e.logger.Info("replay complete",
		"total_events", report.TotalEvents,
		"skipped_by_snapshot", report.SkippedBySnapshot,
		"failures", report.Failures,
		"duration", report.Duration,
	)
	return report, nil
}

// restoreFromSnapshot attempts to start from the latest snapshot and
// returns its sequence, or 0 for a from-scratch replay. Any snapshot
// problem falls back to full replay; an unreadable snapshot never fails
// the operation.
func (e *Engine) restoreFromSnapshot(ctx context.Context, report *Report) uint64 {
	if !e.opts.UseSnapshots || e.snapshots == nil {
		return 0
	}

	snap, err := e.snapshots.LoadLatest(ctx)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNoSnapshot) {
			e.logger.Warn("snapshot load failed, falling back to full replay", "error", err)
		}
		return 0
	}
	if err := e.snapshots.Restore(e.projections, snap); err != nil {
		e.logger.Warn("snapshot restore failed, falling back to full replay",
			"snapshot_id", snap.ID, "error", err)
		e.projections.ClearAll()
		return 0
	}

	report.SnapshotID = snap.ID
	report.SkippedBySnapshot = snap.Sequence
	e.logger.Info("restored from snapshot", "snapshot_id", snap.ID, "sequence", snap.Sequence)
	return snap.Sequence
}

func (e *Engine) fold(env *event.Envelope) error {
	if e.upcaster != nil {
		upcasted, err := e.upcaster.Upcast(env)
		if err != nil {
			return err
		}
		env = upcasted
	}
	return e.projections.HandleEvent(env)
}
