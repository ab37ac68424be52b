package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowpump/internal/ack"
	"rowpump/internal/config"
)

func TestApplyFlags_OnlyChanged(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--topic", "payments", "--max-retries", "2", "--start-offset", "10", "--log-json"}))

	cfg := config.Config{}
	config.ApplyDefaults(&cfg)
	servers := cfg.Sink.BootstrapServers
	require.NoError(t, applyFlags(cmd.Flags(), &cfg))

	assert.Equal(t, "payments", cfg.Sink.Topic)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, int64(10), cfg.Input.StartOffset)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, servers, cfg.Sink.BootstrapServers)
}

func TestRoot_RequiresInput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestRoot_StdoutRun(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(input, []byte("id,name\n1,a\n2,b\n3\n"), 0o644))

	cmd := newRootCmd()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--driver", "stdout", "--log-level", "error", input})

	err := cmd.ExecuteContext(context.Background())
	assert.True(t, errors.Is(err, errFailed), "err=%v", err)
	assert.Contains(t, stderr.String(), "seen=3 succeeded=2 failed=1")
	assert.True(t, strings.Contains(stderr.String(), "malformed"))
}

func TestPrintSummary_Aborted(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, ack.Summary{RunID: "r", Seen: 1, Failed: 1, Aborted: true, AbortReason: "context canceled"})
	assert.Contains(t, buf.String(), "aborted: context canceled")
}
