package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepStateRoundTrip(t *testing.T) {
	state := &StepState{
		UnitsProcessed: 7,
		LastUnit:       "docs/guide.md",
		ErrorsCount:    2,
	}

	data, err := state.Encode()
	require.NoError(t, err)

	decoded, err := DecodeStepState(data)
	require.NoError(t, err)
	assert.Equal(t, stepStateVersion, decoded.Version)
	assert.Equal(t, 7, decoded.UnitsProcessed)
	assert.Equal(t, "docs/guide.md", decoded.LastUnit)
	assert.Equal(t, 2, decoded.ErrorsCount)
}

func TestDecodeStepStateRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeStepState([]byte(`{"version":99,"units_processed":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported step state version")
}

func TestDecodeStepStateRejectsGarbage(t *testing.T) {
	_, err := DecodeStepState([]byte("not json"))
	require.Error(t, err)
}

func TestHashStateData(t *testing.T) {
	data := []byte(`{"version":1}`)

	// Stable for identical input, different for different input.
	assert.Equal(t, HashStateData(data), HashStateData(data))
	assert.NotEqual(t, HashStateData(data), HashStateData([]byte(`{"version":2}`)))
	assert.Len(t, HashStateData(data), 64)
}
