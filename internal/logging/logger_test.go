package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tbcv/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{"json info", config.LoggingConfig{Level: "info", Format: "json"}, false},
		{"console debug", config.LoggingConfig{Level: "debug", Format: "console"}, false},
		{"warn", config.LoggingConfig{Level: "warn", Format: "json"}, false},
		{"error", config.LoggingConfig{Level: "error", Format: "json"}, false},
		{"empty level defaults to info", config.LoggingConfig{Format: "json"}, false},
		{"unknown level", config.LoggingConfig{Level: "loud", Format: "json"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", level.String())

	_, err = parseLevel("shouty")
	require.Error(t, err)
}
