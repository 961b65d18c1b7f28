// Package stream carries journal envelopes over Redis Streams with
// consumer-group semantics. The stream is a delivery channel, not a source
// of truth: envelopes keep the sequence assigned by the journal, and
// unacknowledged messages stay in the group's pending entry list until a
// consumer acks or Redis redelivers them.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tallylabs/creditcore/pkg/event"
)

const (
	fieldEnvelope  = "envelope"
	fieldEventType = "event_type"
	fieldTraceID   = "trace_id"
)

// Message is one delivery from the stream. Err is set when the entry could
// not be decoded into an envelope; such messages can never succeed and the
// consumer acks them immediately.
type Message struct {
	ID  string
	Env *event.Envelope
	Err error
}

// Publisher appends envelopes to a stream via XADD.
type Publisher struct {
	client *redis.Client
	stream string
}

func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

// Publish writes the envelope to the stream. The event type and trace id
// are duplicated as top-level fields for audit queries with XRANGE.
func (p *Publisher) Publish(ctx context.Context, env *event.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.EventID, err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			fieldEnvelope:  string(body),
			fieldEventType: env.EventType,
			fieldTraceID:   env.TraceID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd to %s: %w", p.stream, err)
	}
	return nil
}

// GroupReader reads a stream as one consumer inside a competing-consumer
// group. Multiple instances with distinct consumer names share the work;
// a crashed instance's pending messages are redelivered by Redis.
type GroupReader struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	batch    int64
	block    time.Duration
}

// NewGroupReader creates a reader for one consumer identity.
func NewGroupReader(client *redis.Client, stream, group, consumer string, batch int64, block time.Duration) *GroupReader {
	if batch <= 0 {
		batch = 64
	}
	if block <= 0 {
		block = 5 * time.Second
	}
	return &GroupReader{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		batch:    batch,
		block:    block,
	}
}

// EnsureGroup creates the consumer group (and the stream, if missing).
// An already-existing group is not an error.
func (r *GroupReader) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", r.group, r.stream, err)
	}
	return nil
}

// Fetch blocks for up to the configured timeout and returns the next batch
// of messages not yet delivered to this group. An empty slice means the
// timeout elapsed with nothing to read.
func (r *GroupReader) Fetch(ctx context.Context) ([]Message, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, ">"},
		Count:    r.batch,
		Block:    r.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", r.stream, r.group, err)
	}

	var out []Message
	for _, str := range res {
		for _, xm := range str.Messages {
			out = append(out, decodeMessage(xm))
		}
	}
	return out, nil
}

// Ack acknowledges one message for the group.
func (r *GroupReader) Ack(ctx context.Context, id string) error {
	if err := r.client.XAck(ctx, r.stream, r.group, id).Err(); err != nil {
		return fmt.Errorf("xack %s on %s: %w", id, r.stream, err)
	}
	return nil
}

func decodeMessage(xm redis.XMessage) Message {
	raw, ok := xm.Values[fieldEnvelope]
	if !ok {
		return Message{ID: xm.ID, Err: fmt.Errorf("entry %s has no %s field", xm.ID, fieldEnvelope)}
	}
	body, ok := raw.(string)
	if !ok {
		return Message{ID: xm.ID, Err: fmt.Errorf("entry %s has non-string %s field", xm.ID, fieldEnvelope)}
	}

	var env event.Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Message{ID: xm.ID, Err: fmt.Errorf("entry %s undeserializable: %w", xm.ID, err)}
	}
	if err := env.Validate(); err != nil {
		return Message{ID: xm.ID, Err: fmt.Errorf("entry %s invalid: %w", xm.ID, err)}
	}
	return Message{ID: xm.ID, Env: &env}
}
