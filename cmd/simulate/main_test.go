package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfi/cookfi-agent/internal/config"
)

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, map[string]int{"trades": 1}))
	assert.Equal(t, "{\n  \"trades\": 1\n}\n", buf.String())
}

func TestPrintReport_EncodeError(t *testing.T) {
	var buf bytes.Buffer
	err := printReport(&buf, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode report")
	assert.Empty(t, buf.String())
}

func TestForceDryRun(t *testing.T) {
	cfg := &config.Config{}
	cfg.Control.Addr = ":8090"

	forceDryRun(cfg)
	assert.True(t, cfg.Agent.DryRun)
	assert.True(t, cfg.Telegram.DryRun)
	assert.Empty(t, cfg.Control.Addr)
}

func TestRun_MissingConfig(t *testing.T) {
	var buf bytes.Buffer
	err := run(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
	assert.Empty(t, buf.String())
}
