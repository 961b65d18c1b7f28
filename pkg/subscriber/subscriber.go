// Package subscriber defines the handler contract for journal events and
// the startup-time registry mapping event types to handlers.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"

	"github.com/tallylabs/creditcore/pkg/event"
)

// Classification says whether a failed handle is worth retrying.
type Classification int

const (
	// Transient failures (I/O, timeout, resource exhaustion) are retried
	// via redelivery.
	Transient Classification = iota
	// Permanent failures (bad data, validation) cannot succeed on retry.
	Permanent
)

func (c Classification) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Subscriber handles events of its declared types. Name must be unique and
// stable across deployments: it keys the idempotency markers.
type Subscriber interface {
	Name() string
	EventTypes() []string
	Handle(ctx context.Context, env *event.Envelope) error

	// ClassifyError decides whether err from Handle(env) is worth a retry.
	ClassifyError(env *event.Envelope, err error) Classification
}

// permanentError marks an error as not worth retrying.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// AsPermanent wraps err so DefaultClassify reports it permanent.
func AsPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// DefaultClassify is the default ClassifyError implementation: validation
// and shape errors are permanent, everything else transient. Subscribers
// embed it unless they know better.
func DefaultClassify(err error) Classification {
	var perm *permanentError
	if errors.As(err, &perm) {
		return Permanent
	}
	if errors.Is(err, event.ErrPayloadInvalid) ||
		errors.Is(err, event.ErrUnknownType) ||
		errors.Is(err, event.ErrVersionInvalid) ||
		errors.Is(err, event.ErrTypeRequired) {
		return Permanent
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Permanent
	}

	// Connectivity and deadline problems are the canonical transient cases.
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return Transient
	}

	return Transient
}
