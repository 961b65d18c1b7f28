package upcast

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tallylabs/creditcore/pkg/event"
)

// DefaultRegistry returns the registry with every transform the credit
// domain currently needs.
//
// credit.allocated v1 carried a float "amount" in whole credits; v2 uses
// integer minor units and an optional reason.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Registrations are static; errors here are programming mistakes.
	if err := r.Register(event.TypeCreditAllocated, 1, upcastCreditAllocatedV1); err != nil {
		panic(err)
	}
	return r
}

type creditAllocatedV1 struct {
	EntityID string  `json:"entity_id"`
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason,omitempty"`
}

func upcastCreditAllocatedV1(payload json.RawMessage) (json.RawMessage, error) {
	var v1 creditAllocatedV1
	if err := json.Unmarshal(payload, &v1); err != nil {
		return nil, fmt.Errorf("decode credit.allocated v1: %w", err)
	}
	if math.IsNaN(v1.Amount) || math.IsInf(v1.Amount, 0) {
		return nil, fmt.Errorf("credit.allocated v1 amount is not finite")
	}
	v2 := event.CreditAllocated{
		EntityID:    v1.EntityID,
		AmountMinor: int64(math.Round(v1.Amount * 100)),
		Reason:      v1.Reason,
	}
	return json.Marshal(v2)
}

// SamplePayloads returns representative payloads per version for
// validating the default registry before deployment.
func SamplePayloads() map[string]map[int]json.RawMessage {
	return map[string]map[int]json.RawMessage{
		event.TypeCreditAllocated: {
			1: json.RawMessage(`{"entity_id":"sample-entity","amount":12.5}`),
			2: json.RawMessage(`{"entity_id":"sample-entity","amount_minor":1250,"reason":"sample"}`),
		},
	}
}
