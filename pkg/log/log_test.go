package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(DebugLevel))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(WarnLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(Level("verbose")))
}

func TestJSONLoggerCarriesClusterFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	defer func() { Logger = zerolog.Nop() }()

	l := WithUpgrade(WithComponent("upgrade"), "c1", "simple")
	l.Info().Msg("upgrade started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "upgrade", entry["component"])
	assert.Equal(t, "c1", entry["cluster_id"])
	assert.Equal(t, "simple", entry["upgrade_kind"])
	assert.Equal(t, "upgrade started", entry["message"])
}
