package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowpump/internal/ack"
	"rowpump/internal/config"
)

func TestEngine_RunWritesReport(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(input, []byte("id,name\n1,a\n2,b\n"), 0o644))

	cfg := config.Config{
		Input:  config.InputCfg{Path: input},
		Sink:   config.SinkCfg{Driver: "stdout", Topic: "transactions"},
		Report: filepath.Join(dir, "summary.json"),
		Log:    config.LogCfg{Level: "error"},
	}
	config.ApplyDefaults(&cfg)

	e, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, e.RunID())

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.OK())

	raw, err := os.ReadFile(cfg.Report)
	require.NoError(t, err)
	var got ack.Summary
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, int64(2), got.Succeeded)
	assert.Equal(t, e.RunID(), got.RunID)
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	_, err := Bootstrap(context.Background(), config.Config{})
	assert.Error(t, err)
}
