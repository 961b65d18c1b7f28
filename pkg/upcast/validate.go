package upcast

import (
	"encoding/json"
	"fmt"

	"github.com/tallylabs/creditcore/pkg/event"
)

// Validate runs every registered transform for eventType against the
// sample payloads (keyed by schema version) and reports the first
// malformed transform. Deploy tooling runs this before a migration so a
// broken transform is caught before it touches real events.
func (r *Registry) Validate(eventType string, samples map[int]json.RawMessage) error {
	latest := r.LatestVersion(eventType)

	for version, sample := range samples {
		if version >= latest {
			continue
		}
		env := &event.Envelope{
			EventID:       fmt.Sprintf("sample-%s-v%d", eventType, version),
			EventType:     eventType,
			SchemaVersion: version,
			Payload:       sample,
		}
		upcasted, err := r.Upcast(env)
		if err != nil {
			return fmt.Errorf("sample v%d of %s: %w", version, eventType, err)
		}
		if upcasted.SchemaVersion != latest {
			return fmt.Errorf("sample v%d of %s stopped at v%d, latest is v%d",
				version, eventType, upcasted.SchemaVersion, latest)
		}
		// The chain must land on a payload the event model can decode.
		if event.LatestVersion(eventType) == latest {
			if _, err := event.DecodePayload(upcasted); err != nil {
				return fmt.Errorf("sample v%d of %s produced undecodable payload: %w", version, eventType, err)
			}
		}
	}
	return nil
}

// ValidateAll validates every event type that has registered transforms.
// Types missing from samples are reported as errors: an unvalidated
// transform is treated as invalid.
func (r *Registry) ValidateAll(samples map[string]map[int]json.RawMessage) []error {
	var errs []error
	for _, eventType := range r.EventTypes() {
		typeSamples, ok := samples[eventType]
		if !ok {
			errs = append(errs, fmt.Errorf("no sample payloads for %s", eventType))
			continue
		}
		if err := r.Validate(eventType, typeSamples); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
