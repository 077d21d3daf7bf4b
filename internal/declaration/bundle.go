package declaration

import (
	"encoding/json"
	"fmt"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
)

// DecodeBundle validates the wire form of a bundle against the bundle schema,
// unmarshals it and checks the bundle's own invariants.
func DecodeBundle(data []byte) (capability.Bundle, error) {
	if err := validateJSON(bundleSchema, data); err != nil {
		return capability.Bundle{}, fmt.Errorf("DecodeBundle: %w", err)
	}
	var b capability.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return capability.Bundle{}, fmt.Errorf("DecodeBundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return capability.Bundle{}, fmt.Errorf("DecodeBundle: %w", err)
	}
	return b, nil
}

// EncodeBundle returns the wire form of b.
func EncodeBundle(b capability.Bundle) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("EncodeBundle: %w", err)
	}
	return data, nil
}
