package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestConfigure_JSONCarriesRunID(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "info", JSON: true, Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })

	ForRun("run-1").Info("hello", "rows", 3)
	ForRun("run-1").Debug("dropped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "hello", line["msg"])
	assert.EqualValues(t, 3, line["rows"])
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv("ROWPUMP_LOG_LEVEL", "warn")
	t.Setenv("ROWPUMP_LOG_JSON", "true")
	opts := InitFromEnv()
	t.Cleanup(func() { Configure(Options{}) })
	assert.Equal(t, "warn", opts.Level)
	assert.True(t, opts.JSON)
}
