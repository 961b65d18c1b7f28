// Package event defines the canonical event envelope for the credit ledger.
//
// An envelope is the immutable record of one balance-affecting fact. It is
// created once by a producer, assigned a sequence number by the journal at
// append time, and read-only to every consumer after that.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTypeRequired indicates a missing event type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrEventIDRequired indicates a missing event id.
	ErrEventIDRequired = errors.New("event id is required")
	// ErrVersionInvalid indicates a non-positive schema version.
	ErrVersionInvalid = errors.New("schema version must be positive")
	// ErrPayloadInvalid indicates malformed payload JSON.
	ErrPayloadInvalid = errors.New("payload must be valid JSON")
	// ErrStorageFieldsSet indicates journal-assigned fields were pre-set.
	ErrStorageFieldsSet = errors.New("sequence is assigned by the journal and must be zero")
)

// Envelope is the wire and storage representation of one recorded fact.
//
// TraceID is the idempotency key: unique per logical occurrence, shared by
// every redelivery of the same occurrence. Sequence is the journal position
// and is zero until the envelope has been appended.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	TraceID       string          `json:"trace_id,omitempty"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Sequence      uint64          `json:"sequence,omitempty"`
}

// Option customizes a new envelope.
type Option func(*Envelope)

// WithTraceID sets an explicit idempotency key.
func WithTraceID(traceID string) Option {
	return func(e *Envelope) { e.TraceID = traceID }
}

// WithTenantID scopes the envelope to a tenant.
func WithTenantID(tenantID string) Option {
	return func(e *Envelope) { e.TenantID = tenantID }
}

// WithSchemaVersion sets an explicit schema version (default 1).
func WithSchemaVersion(v int) Option {
	return func(e *Envelope) { e.SchemaVersion = v }
}

// WithOccurredAt overrides the occurrence timestamp.
func WithOccurredAt(t time.Time) Option {
	return func(e *Envelope) { e.OccurredAt = t }
}

// New creates an envelope for the given payload. The event id and trace id
// default to fresh UUIDs; producers recording a retryable operation must
// pass WithTraceID so redeliveries share one idempotency key.
func New(eventType string, payload any, opts ...Option) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadInvalid, err)
	}

	env := &Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SchemaVersion: 1,
		TraceID:       uuid.NewString(),
		Payload:       raw,
		OccurredAt:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(env)
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks the envelope invariants. Journal backends call this
// before persisting; consumers call it before dispatch.
func (e *Envelope) Validate() error {
	if e.EventType == "" {
		return ErrTypeRequired
	}
	if e.EventID == "" {
		return ErrEventIDRequired
	}
	if e.SchemaVersion < 1 {
		return ErrVersionInvalid
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return ErrPayloadInvalid
	}
	return nil
}

// Clone returns a deep copy. Upcasting works on clones so the raw envelope
// stays immutable.
func (e *Envelope) Clone() *Envelope {
	out := *e
	if e.Payload != nil {
		out.Payload = make(json.RawMessage, len(e.Payload))
		copy(out.Payload, e.Payload)
	}
	return &out
}
