// Package idempotency converts the transport's at-least-once delivery into
// effectively-exactly-once application. A subscriber may mutate state only
// after winning the insert of a (subscriber_name, trace_id) marker; the
// uniqueness of that composite key is the entire correctness mechanism.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tallylabs/creditcore/pkg/event"
)

// MarkerStore persists processed-event markers. Insert must be atomic with
// respect to concurrent delivery of the same event to the same subscriber:
// exactly one caller observes inserted == true.
type MarkerStore interface {
	// Insert writes the marker and reports whether this call created it.
	// false means the (subscriber, trace) pair was already marked.
	Insert(ctx context.Context, m Marker) (inserted bool, err error)

	// Delete removes the marker, making the event eligible again.
	Delete(ctx context.Context, subscriberName, traceID string) error
}

// Marker is one processed-event row. TenantID and EventType are carried
// for audit queries only; the key is (SubscriberName, TraceID).
type Marker struct {
	SubscriberName string
	TraceID        string
	TenantID       string
	EventType      string
}

// Guard is the gate subscribers pass before mutating state.
type Guard struct {
	store  MarkerStore
	logger *slog.Logger
}

func NewGuard(store MarkerStore, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, logger: logger.With("component", "idempotency")}
}

// ShouldProcess attempts to claim the event for the subscriber. true means
// the caller won the claim and must either complete processing or call
// Rollback. false means another delivery already claimed it.
//
// An envelope without a trace id is a protocol violation; the guard logs
// and fails open (process, no marker) because losing the event would be
// worse than duplicating it.
func (g *Guard) ShouldProcess(ctx context.Context, subscriberName string, env *event.Envelope) (bool, error) {
	if env.TraceID == "" {
		g.logger.Warn("envelope has no trace_id, processing without idempotency marker",
			"subscriber", subscriberName,
			"event_id", env.EventID,
			"event_type", env.EventType,
		)
		return true, nil
	}

	inserted, err := g.store.Insert(ctx, Marker{
		SubscriberName: subscriberName,
		TraceID:        env.TraceID,
		TenantID:       env.TenantID,
		EventType:      env.EventType,
	})
	if err != nil {
		return false, fmt.Errorf("insert marker (%s, %s): %w", subscriberName, env.TraceID, err)
	}
	return inserted, nil
}

// Rollback deletes the marker after a failed handle so the pair can be
// processed again, either by automatic redelivery (transient failures) or
// by a later manual re-attempt (permanent failures after a fix).
func (g *Guard) Rollback(ctx context.Context, subscriberName string, env *event.Envelope) error {
	if env.TraceID == "" {
		return nil
	}
	if err := g.store.Delete(ctx, subscriberName, env.TraceID); err != nil {
		return fmt.Errorf("delete marker (%s, %s): %w", subscriberName, env.TraceID, err)
	}
	return nil
}
