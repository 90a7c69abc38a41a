package console

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Format: "json", Output: &buf})

	l.Info("[Fusion] Search finished", "results", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "[Fusion] Search finished", line["msg"])
	assert.EqualValues(t, 3, line["results"])
}

func TestConsoleLogger_DebugLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Output: &buf})
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	dbg := NewConsoleLogger(ConsoleLoggerParams{Debug: true, Output: &buf})
	dbg.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
