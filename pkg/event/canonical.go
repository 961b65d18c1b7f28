package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalBytes returns the RFC 8785 canonical JSON encoding of v.
// Map keys are sorted by UTF-8 bytes so the same value always produces the
// same bytes regardless of insertion order.
func CanonicalBytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform failed: %w", err)
	}
	return canonical, nil
}

// CanonicalHash returns the SHA-256 hash of the canonical encoding of v,
// in "sha256:<hex>" form. Used for snapshot state hashes and for comparing
// payloads across upcast runs.
func CanonicalHash(v any) (string, error) {
	data, err := CanonicalBytes(v)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
