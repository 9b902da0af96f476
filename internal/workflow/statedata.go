package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// stepStateVersion is the current StepState schema version. Bump when fields
// change incompatibly; DecodeStepState rejects versions it does not know.
const stepStateVersion = 1

// StepState is the step-local progress snapshot serialized into a checkpoint's
// StateData. The schema is versioned and portable (JSON) so recovery never
// depends on an in-process object graph.
type StepState struct {
	Version        int    `json:"version"`
	UnitsProcessed int    `json:"units_processed"`
	LastUnit       string `json:"last_unit,omitempty"`
	ErrorsCount    int    `json:"errors_count"`
}

// Encode serializes the state, stamping the current schema version.
func (s *StepState) Encode() ([]byte, error) {
	s.Version = stepStateVersion
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode step state: %w", err)
	}
	return data, nil
}

// DecodeStepState deserializes checkpoint state data.
func DecodeStepState(data []byte) (*StepState, error) {
	var s StepState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode step state: %w", err)
	}
	if s.Version != stepStateVersion {
		return nil, fmt.Errorf("unsupported step state version %d", s.Version)
	}
	return &s, nil
}

// HashStateData returns the hex SHA-256 digest stored as a checkpoint's
// validation hash.
func HashStateData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
