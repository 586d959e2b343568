package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/fluxdash/internal/config"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fluxdash.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(nil, config.WithConfigFile(path))
	require.NoError(t, err)
	return cfg
}

func TestLoopWithoutReportInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop(ctx, nil, 0)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not return after cancel")
	}
}

func TestNewDashboardWithPollingDisabled(t *testing.T) {
	cfg := loadConfig(t, `
[health]
interval = "0s"

[report]
interval = "0s"

[history]
enabled = false
`)
	assert.Zero(t, cfg.Health.Interval)
	assert.Zero(t, cfg.Report.Interval)

	board, err := newDashboard(cfg, logger.Nop())
	require.NoError(t, err)

	v := board.View()
	assert.Nil(t, v.Health)
	assert.Nil(t, v.System)
	assert.NoError(t, board.Close())
}
