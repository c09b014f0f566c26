package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mossgov/internal/config"
)

func TestSetupWritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("voting_id", "v1").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "v1", entry["voting_id"])
	assert.Equal(t, "mossgov", entry["service"])
}

func TestSetupFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{Level: "nonsense"}, &buf)
	logger.Debug().Msg("dropped")
	logger.Info().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
	assert.NotContains(t, buf.String(), "dropped")
}
