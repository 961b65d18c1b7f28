// Package upcast rewrites old-schema-version payloads into the latest
// schema version. Each event type owns a chain of pure v -> v+1 transforms
// applied in sequence; upcasting is deterministic and side-effect-free so
// replay and live consumption produce identical envelopes from the same
// raw input.
package upcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tallylabs/creditcore/pkg/event"
)

var (
	// ErrDuplicateTransform indicates two transforms registered for the
	// same (event type, from-version) transition.
	ErrDuplicateTransform = errors.New("transform already registered")
	// ErrVersionInvalid indicates a non-positive from-version.
	ErrVersionInvalid = errors.New("from-version must be positive")
)

// TransformFunc rewrites a payload from one schema version to the next.
// It must be pure: same input, same output, no I/O.
type TransformFunc func(payload json.RawMessage) (json.RawMessage, error)

// Error reports a failed or impossible upcast for one event. It carries
// enough context to hand-fix the event or patch the registry.
type Error struct {
	EventID   string
	EventType string
	From      int
	To        int
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upcast %s (%s) v%d->v%d: %v", e.EventID, e.EventType, e.From, e.To, e.Cause)
	}
	return fmt.Sprintf("upcast %s (%s): no transform registered for v%d->v%d", e.EventID, e.EventType, e.From, e.To)
}

func (e *Error) Unwrap() error { return e.Cause }

// Registry holds the transform chains. It is built once at startup;
// registration is not supported after consumers start.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]map[int]TransformFunc
}

func NewRegistry() *Registry {
	return &Registry{chains: make(map[string]map[int]TransformFunc)}
}

// Register adds the transform for (eventType, fromVersion) -> fromVersion+1.
func (r *Registry) Register(eventType string, fromVersion int, fn TransformFunc) error {
	if eventType == "" {
		return event.ErrTypeRequired
	}
	if fromVersion < 1 {
		return ErrVersionInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chain, ok := r.chains[eventType]
	if !ok {
		chain = make(map[int]TransformFunc)
		r.chains[eventType] = chain
	}
	if _, exists := chain[fromVersion]; exists {
		return fmt.Errorf("%w: %s v%d", ErrDuplicateTransform, eventType, fromVersion)
	}
	chain[fromVersion] = fn
	return nil
}

// LatestVersion returns the version the registry can reach for eventType.
// Types with no registered transforms are already at version 1 unless the
// event model says otherwise.
func (r *Registry) LatestVersion(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := 1
	if model := event.LatestVersion(eventType); model > latest {
		latest = model
	}
	for from := range r.chains[eventType] {
		if from+1 > latest {
			latest = from + 1
		}
	}
	return latest
}

// Needed reports whether env is behind the latest schema version. Cheap
// predicate used to skip the transform chain entirely.
func (r *Registry) Needed(env *event.Envelope) bool {
	return env.SchemaVersion < r.LatestVersion(env.EventType)
}

// Upcast returns an envelope at the latest schema version. The input is
// never mutated; an already-current envelope is returned as-is, so
// Upcast(Upcast(e)) == Upcast(e).
func (r *Registry) Upcast(env *event.Envelope) (*event.Envelope, error) {
	latest := r.LatestVersion(env.EventType)
	if env.SchemaVersion >= latest {
		return env, nil
	}

	r.mu.RLock()
	chain := r.chains[env.EventType]
	r.mu.RUnlock()

	out := env.Clone()
	for out.SchemaVersion < latest {
		fn, ok := chain[out.SchemaVersion]
		if !ok {
			return nil, &Error{
				EventID:   env.EventID,
				EventType: env.EventType,
				From:      out.SchemaVersion,
				To:        out.SchemaVersion + 1,
			}
		}
		next, err := fn(out.Payload)
		if err != nil {
			return nil, &Error{
				EventID:   env.EventID,
				EventType: env.EventType,
				From:      out.SchemaVersion,
				To:        out.SchemaVersion + 1,
				Cause:     err,
			}
		}
		if len(next) > 0 && !json.Valid(next) {
			return nil, &Error{
				EventID:   env.EventID,
				EventType: env.EventType,
				From:      out.SchemaVersion,
				To:        out.SchemaVersion + 1,
				Cause:     event.ErrPayloadInvalid,
			}
		}
		out.Payload = next
		out.SchemaVersion++
	}
	return out, nil
}

// EventTypes returns the types with at least one registered transform.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.chains))
	for t := range r.chains {
		types = append(types, t)
	}
	return types
}
