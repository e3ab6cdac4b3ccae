package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug")

	log.With("component", "test").Info("space created", "space_id", "abc", "error", errors.New("boom"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "space created", line["message"])
	assert.Equal(t, "abc", line["space_id"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "test", line["component"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn")

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogger_OddKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info")

	log.Info("odd", "dangling")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "(MISSING)", line["dangling"])
}

func TestParseLevel(t *testing.T) {
	lvl, console := parseLevel("debug,console")
	assert.Equal(t, "debug", lvl.String())
	assert.True(t, console)

	lvl, console = parseLevel("nonsense")
	assert.Equal(t, "info", lvl.String())
	assert.False(t, console)
}

func TestPionFactory_DropsDebugUnlessEnabled(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug")

	NewPionFactory(log, false).NewLogger("ice").Debugf("candidate %d", 1)
	assert.Zero(t, buf.Len())

	NewPionFactory(log, true).NewLogger("ice").Debugf("candidate %d", 1)
	assert.Contains(t, buf.String(), "candidate 1")
	assert.Contains(t, buf.String(), `"mod":"ice"`)
}
