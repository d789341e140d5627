package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "prod", "warn")

	logger.Info().Msg("dropped")
	logger.Warn().Str("component", "seed").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "seed", entry["component"])
	assert.Equal(t, "pharmanear", entry["service"])
}

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "prod", "verbose")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
