// Package consumer pulls envelopes from the stream as one member of a
// competing-consumer group, upcasts them, and dispatches to registered
// subscribers under the idempotency guard. The transport delivers
// at-least-once; the guard, not the transport, is what makes application
// effectively exactly once.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tallylabs/creditcore/pkg/event"
	"github.com/tallylabs/creditcore/pkg/idempotency"
	"github.com/tallylabs/creditcore/pkg/stream"
	"github.com/tallylabs/creditcore/pkg/subscriber"
	"github.com/tallylabs/creditcore/pkg/upcast"
)

// State is the consumer lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	default:
		return "STOPPED"
	}
}

var (
	// ErrAlreadyRunning indicates Start on a non-stopped consumer.
	ErrAlreadyRunning = errors.New("consumer already running")
	// ErrNotRunning indicates Stop on a stopped consumer.
	ErrNotRunning = errors.New("consumer not running")
)

// Source is the transport the consumer reads from. stream.GroupReader is
// the production implementation.
type Source interface {
	Fetch(ctx context.Context) ([]stream.Message, error)
	Ack(ctx context.Context, id string) error
}

// Metrics receives consumption measurements. Nil-safe via noopMetrics.
type Metrics interface {
	RecordConsumed(ctx context.Context, eventType string)
	RecordFailure(ctx context.Context, eventType, classification string)
	RecordHandleDuration(ctx context.Context, eventType string, d time.Duration)
	RecordInFlight(ctx context.Context, delta int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordConsumed(context.Context, string)                      {}
func (noopMetrics) RecordFailure(context.Context, string, string)               {}
func (noopMetrics) RecordHandleDuration(context.Context, string, time.Duration) {}
func (noopMetrics) RecordInFlight(context.Context, int64)                       {}

// Options configures a consumer.
type Options struct {
	// Name identifies this instance inside the group. Defaults to a
	// uuid-suffixed name.
	Name string
	// PollRate bounds poll iterations per second (0 = unlimited).
	PollRate float64
	// Backoff is the transport-error retry policy.
	Backoff BackoffPolicy
	// StopTimeout bounds how long Stop waits for in-flight work.
	StopTimeout time.Duration
}

// Consumer is the long-lived background task that drives subscribers.
type Consumer struct {
	source   Source
	registry *subscriber.Registry
	guard    *idempotency.Guard
	upcaster *upcast.Registry
	metrics  Metrics
	logger   *slog.Logger
	opts     Options

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a consumer. upcaster and metrics may be nil.
func New(source Source, registry *subscriber.Registry, guard *idempotency.Guard, upcaster *upcast.Registry, metrics Metrics, logger *slog.Logger, opts Options) *Consumer {
	if opts.Name == "" {
		opts.Name = "consumer-" + uuid.NewString()[:8]
	}
	if opts.Backoff == (BackoffPolicy{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		source:   source,
		registry: registry,
		guard:    guard,
		upcaster: upcaster,
		metrics:  metrics,
		logger:   logger.With("component", "consumer", "consumer", opts.Name),
		opts:     opts,
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the consume loop as a background goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Stopped {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = Starting

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.mu.Lock()
		// Stop may have moved the state to Stopping already; never
		// walk that back to Running.
		if c.state == Starting {
			c.state = Running
		}
		c.mu.Unlock()
		c.logger.Info("consumer started")
		c.loop(loopCtx)
	}()
	return nil
}

// Stop requests cancellation and waits for the loop to reach a safe
// boundary (between messages, never mid-dispatch) or the stop timeout.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Running && c.state != Starting {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.state = Stopping
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()

	timeout := time.NewTimer(c.opts.StopTimeout)
	defer timeout.Stop()
	select {
	case <-done:
	case <-timeout.C:
		return fmt.Errorf("consumer %s did not stop within %s", c.opts.Name, c.opts.StopTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
	c.logger.Info("consumer stopped")
	return nil
}

func (c *Consumer) loop(ctx context.Context) {
	var limiter *rate.Limiter
	if c.opts.PollRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.opts.PollRate), 1)
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		msgs, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := computeBackoff(c.opts.Name, attempt, c.opts.Backoff)
			c.logger.Warn("fetch failed, backing off",
				"attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		for _, msg := range msgs {
			// Stop boundary: between messages only.
			if ctx.Err() != nil {
				return
			}
			c.processMessage(ctx, msg)
		}
	}
}

// processMessage runs one delivery end to end. The message is acknowledged
// unless some subscriber failed transiently, in which case it stays in the
// pending list for redelivery.
func (c *Consumer) processMessage(ctx context.Context, msg stream.Message) {
	c.metrics.RecordInFlight(ctx, 1)
	defer c.metrics.RecordInFlight(ctx, -1)

	if msg.Err != nil || msg.Env == nil {
		// Malformed deliveries can never succeed; acknowledging is the
		// only way to keep them from blocking the partition.
		c.logger.Error("malformed message, acknowledging and skipping",
			"message_id", msg.ID, "error", msg.Err)
		c.metrics.RecordFailure(ctx, "malformed", "permanent")
		c.ack(ctx, msg.ID)
		return
	}

	env := msg.Env
	if c.upcaster != nil {
		upcasted, err := c.upcaster.Upcast(env)
		if err != nil {
			// An upcast gap is permanent for this event: patching the
			// registry is a deploy, not a retry.
			c.logger.Error("upcast failed, acknowledging and skipping",
				"message_id", msg.ID,
				"event_id", env.EventID,
				"event_type", env.EventType,
				"schema_version", env.SchemaVersion,
				"error", err,
			)
			c.metrics.RecordFailure(ctx, env.EventType, "upcast")
			c.ack(ctx, msg.ID)
			return
		}
		env = upcasted
	}

	subs := c.registry.For(env.EventType)
	if len(subs) == 0 {
		c.ack(ctx, msg.ID)
		return
	}

	if c.dispatch(ctx, env, subs) {
		c.metrics.RecordConsumed(ctx, env.EventType)
		c.ack(ctx, msg.ID)
	}
}

// dispatch runs every subscriber for the envelope. It reports true when
// the message is resolved (each subscriber succeeded, was already done, or
// failed permanently) and false on the first unresolved transient failure.
func (c *Consumer) dispatch(ctx context.Context, env *event.Envelope, subs []subscriber.Subscriber) bool {
	for _, sub := range subs {
		ok, err := c.guard.ShouldProcess(ctx, sub.Name(), env)
		if err != nil {
			// Guard store trouble is transport-like: withhold the ack and
			// let redelivery retry once the store recovers.
			c.logger.Warn("idempotency check failed, withholding ack",
				"subscriber", sub.Name(), "event_id", env.EventID, "error", err)
			c.metrics.RecordFailure(ctx, env.EventType, "guard")
			return false
		}
		if !ok {
			continue // already processed, idempotent no-op
		}

		started := time.Now()
		handleErr := sub.Handle(ctx, env)
		c.metrics.RecordHandleDuration(ctx, env.EventType, time.Since(started))
		if handleErr == nil {
			continue
		}

		class := sub.ClassifyError(env, handleErr)
		if rbErr := c.guard.Rollback(ctx, sub.Name(), env); rbErr != nil {
			c.logger.Error("marker rollback failed",
				"subscriber", sub.Name(), "event_id", env.EventID, "error", rbErr)
		}
		c.metrics.RecordFailure(ctx, env.EventType, class.String())

		if class == subscriber.Permanent {
			// A permanently failing subscriber must not block delivery to
			// the others or to later messages.
			c.logger.Error("permanent subscriber failure, continuing",
				"subscriber", sub.Name(),
				"event_id", env.EventID,
				"event_type", env.EventType,
				"error", handleErr,
			)
			continue
		}

		c.logger.Warn("transient subscriber failure, withholding ack",
			"subscriber", sub.Name(),
			"event_id", env.EventID,
			"event_type", env.EventType,
			"error", handleErr,
		)
		return false
	}
	return true
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.source.Ack(ctx, id); err != nil {
		// A failed ack means redelivery; the guard will suppress the
		// duplicate work.
		c.logger.Warn("ack failed", "message_id", id, "error", err)
	}
}
