package upcast

import (
	"context"
	"fmt"

	"github.com/tallylabs/creditcore/pkg/event"
	"github.com/tallylabs/creditcore/pkg/journal"
)

// Rewriter is implemented by journal backends that support in-place
// schema migration of stored envelopes. The journal stays append-only for
// normal operation; rewriting is an operator-driven bulk migration.
type Rewriter interface {
	Rewrite(ctx context.Context, env *event.Envelope) error
}

// MigrateFailure records one event that could not be migrated.
type MigrateFailure struct {
	Sequence  uint64 `json:"sequence"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Error     string `json:"error"`
}

// MigrateReport summarizes a bulk upcast run.
type MigrateReport struct {
	Scanned  int              `json:"scanned"`
	Upcasted int              `json:"upcasted"`
	DryRun   bool             `json:"dry_run"`
	Failures []MigrateFailure `json:"failures,omitempty"`
}

// Migrate upcasts every stored event behind the latest schema version and
// writes the result back through rw. With dryRun the transforms still run
// (surfacing failures) but nothing is written. Per-event failures are
// collected, not fatal.
func (r *Registry) Migrate(ctx context.Context, j journal.Journal, rw Rewriter, batchSize int, dryRun bool) (*MigrateReport, error) {
	report := &MigrateReport{DryRun: dryRun}

	var after uint64
	for {
		batch, err := j.Read(ctx, after, batchSize)
		if err != nil {
			return report, fmt.Errorf("read journal after %d: %w", after, err)
		}
		if len(batch) == 0 {
			return report, nil
		}
		for _, env := range batch {
			after = env.Sequence
			report.Scanned++
			if !r.Needed(env) {
				continue
			}

			upcasted, err := r.Upcast(env)
			if err != nil {
				report.Failures = append(report.Failures, MigrateFailure{
					Sequence:  env.Sequence,
					EventID:   env.EventID,
					EventType: env.EventType,
					Error:     err.Error(),
				})
				continue
			}
			if !dryRun {
				if err := rw.Rewrite(ctx, upcasted); err != nil {
					report.Failures = append(report.Failures, MigrateFailure{
						Sequence:  env.Sequence,
						EventID:   env.EventID,
						EventType: env.EventType,
						Error:     err.Error(),
					})
					continue
				}
			}
			report.Upcasted++
		}
	}
}
