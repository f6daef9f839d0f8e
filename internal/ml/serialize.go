package ml

import (
	"encoding/json"
	"fmt"
)

// Algorithm identifiers recorded in artifacts. "gbrt" and "hubert" are the
// two independently-configured boosters; "blend" averages fitted boosters.
const (
	AlgGBRT   = "gbrt"
	AlgHubert = "hubert"
	AlgBlend  = "blend"
)

// Encode serializes a fitted regressor for embedding in an artifact bundle.
func Encode(r Regressor) (json.RawMessage, error) {
	return json.Marshal(r)
}

// Decode reconstructs a regressor from its artifact payload by algorithm
// identifier.
func Decode(algorithm string, raw json.RawMessage) (Regressor, error) {
	switch algorithm {
	case AlgGBRT, AlgHubert:
		var b Booster
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode %s: %w", algorithm, err)
		}
		return &b, nil
	case AlgBlend:
		var bl Blend
		if err := json.Unmarshal(raw, &bl); err != nil {
			return nil, fmt.Errorf("decode blend: %w", err)
		}
		return &bl, nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}
}
