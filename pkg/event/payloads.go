package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event types recorded by the credit ledger. Names are part of the
// write-path contract; changing one affects replay, projections, and
// downstream integrations.
const (
	TypeCreditAllocated   = "credit.allocated"
	TypeCreditConsumed    = "credit.consumed"
	TypeCreditRefunded    = "credit.refunded"
	TypeApprovalRequested = "approval.requested"
	TypeApprovalDecided   = "approval.decided"
	TypeSynergyAwarded    = "synergy.awarded"
)

// latestVersions maps each event type to its current schema version.
// DecodePayload only understands the latest version; older envelopes must
// pass through the upcaster first.
var latestVersions = map[string]int{
	TypeCreditAllocated:   2,
	TypeCreditConsumed:    1,
	TypeCreditRefunded:    1,
	TypeApprovalRequested: 1,
	TypeApprovalDecided:   1,
	TypeSynergyAwarded:    1,
}

// ErrUnknownType indicates an event type outside the credit domain.
var ErrUnknownType = errors.New("unknown event type")

// LatestVersion returns the current schema version for a known event type,
// or 0 for unknown types.
func LatestVersion(eventType string) int {
	return latestVersions[eventType]
}

// Amounts are integer minor units (hundredths of a credit) so folds are
// exact; there is no floating point anywhere in the balance math.

// CreditAllocated records credits granted to an entity. Schema v2; v1
// carried a float "amount" in whole credits and no reason.
type CreditAllocated struct {
	EntityID    string `json:"entity_id"`
	AmountMinor int64  `json:"amount_minor"`
	Reason      string `json:"reason,omitempty"`
}

// CreditConsumed records credits spent by an entity.
type CreditConsumed struct {
	EntityID    string `json:"entity_id"`
	AmountMinor int64  `json:"amount_minor"`
	Reference   string `json:"reference,omitempty"`
}

// CreditRefunded returns previously consumed credits.
type CreditRefunded struct {
	EntityID    string `json:"entity_id"`
	AmountMinor int64  `json:"amount_minor"`
	Reference   string `json:"reference,omitempty"`
}

// ApprovalRequested opens an approval request for a credit operation.
type ApprovalRequested struct {
	RequestID   string `json:"request_id"`
	EntityID    string `json:"entity_id"`
	AmountMinor int64  `json:"amount_minor"`
	Purpose     string `json:"purpose,omitempty"`
}

// ApprovalDecided resolves an approval request.
type ApprovalDecided struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// SynergyAwarded records cooperation credits between entities.
type SynergyAwarded struct {
	EntityID  string `json:"entity_id"`
	PartnerID string `json:"partner_id,omitempty"`
	Points    int64  `json:"points"`
}

// DecodePayload unmarshals the payload of a latest-version envelope into
// its concrete type. Version mismatches and unknown types are shape errors
// the caller should classify as permanent.
func DecodePayload(e *Envelope) (any, error) {
	latest, ok := latestVersions[e.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, e.EventType)
	}
	if e.SchemaVersion != latest {
		return nil, fmt.Errorf("%w: %s v%d, latest is v%d",
			ErrVersionInvalid, e.EventType, e.SchemaVersion, latest)
	}

	var (
		target any
		err    error
	)
	switch e.EventType {
	case TypeCreditAllocated:
		var p CreditAllocated
		err = json.Unmarshal(e.Payload, &p)
		target = p
	case TypeCreditConsumed:
		var p CreditConsumed
		err = json.Unmarshal(e.Payload, &p)
		target = p
	case TypeCreditRefunded:
		var p CreditRefunded
		err = json.Unmarshal(e.Payload, &p)
		target = p
	case TypeApprovalRequested:
		var p ApprovalRequested
		err = json.Unmarshal(e.Payload, &p)
		target = p
	case TypeApprovalDecided:
		var p ApprovalDecided
		err = json.Unmarshal(e.Payload, &p)
		target = p
	case TypeSynergyAwarded:
		var p SynergyAwarded
		err = json.Unmarshal(e.Payload, &p)
		target = p
	}
	if err != nil {
		return nil, errors.Join(ErrPayloadInvalid, err)
	}
	return target, nil
}
