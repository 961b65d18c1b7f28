package consumer

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffPolicy bounds the retry delay after transport errors.
type BackoffPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
}

// DefaultBackoff is the poll-loop policy: fast first retry, capped at 30s.
var DefaultBackoff = BackoffPolicy{
	BaseMs:      100,
	MaxMs:       30_000,
	MaxJitterMs: 500,
}

// computeBackoff returns the delay before retry attempt. Jitter is a PRF
// of (consumer, attempt) so two instances hitting the same outage do not
// retry in lockstep, while any single instance stays deterministic.
func computeBackoff(consumerName string, attempt int, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			// Avoid overflow, cap exponent
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := policy.BaseMs * factor
	if delay > policy.MaxMs {
		delay = policy.MaxMs
	}

	return time.Duration(delay+deterministicJitter(consumerName, attempt, policy)) * time.Millisecond
}

func deterministicJitter(consumerName string, attempt int, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", consumerName, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs))
}
