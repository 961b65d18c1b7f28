package subscriber

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateName indicates two subscribers registered under one name.
var ErrDuplicateName = errors.New("subscriber name already registered")

// Registry is the event-type -> subscribers lookup table. It is built once
// at process start by registration calls; there is no runtime
// re-registration.
type Registry struct {
	mu     sync.RWMutex
	byType map[string][]Subscriber
	names  map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string][]Subscriber),
		names:  make(map[string]struct{}),
	}
}

// Register adds a subscriber for every event type it declares.
func (r *Registry) Register(sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[sub.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, sub.Name())
	}
	r.names[sub.Name()] = struct{}{}
	for _, t := range sub.EventTypes() {
		r.byType[t] = append(r.byType[t], sub)
	}
	return nil
}

// For returns the subscribers handling eventType, in registration order.
// No subscribers is not an error; the consumer treats it as a no-op.
func (r *Registry) For(eventType string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byType[eventType]
	out := make([]Subscriber, len(subs))
	copy(out, subs)
	return out
}

// Names returns all registered subscriber names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	return out
}
