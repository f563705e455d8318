package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"autoheal/config"
	"autoheal/memory"
	"autoheal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Target.URL = "https://app.example.com"
	cfg.MemoryFile = filepath.Join(t.TempDir(), "memory.json")
	cfg.OwnerChannelID = "42"
	return cfg
}

func TestNewApp_WithoutCredentials(t *testing.T) {
	cfg := testConfig(t)

	app, err := NewApp(cfg)
	require.NoError(t, err)

	providers := app.orchestrator.Providers()
	require.Len(t, providers, 3)
	for _, p := range providers {
		assert.False(t, p.Enabled, p.Name)
	}

	event := models.NewFailureEvent(models.ManualTrigger, 503, cfg.Target.URL, time.Now())
	rec, err := app.pipeline.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUndiagnosed, rec.Status)
	assert.Equal(t, "no AI provider available", rec.Reason)
	assert.Len(t, app.state.Snapshot().ErrorHistory, 1)

	app.Close()

	reloaded := memory.NewStore(cfg.MemoryFile)
	assert.Equal(t, 1, reloaded.GetStats().Total)
}

func TestNewApp_RejectsBadRepository(t *testing.T) {
	cfg := testConfig(t)
	cfg.GitHub.Token = "ghp_test"
	cfg.GitHub.Repo = "not-a-repo"

	_, err := NewApp(cfg)
	assert.ErrorContains(t, err, "owner/name")
}

func TestOnlineMessage(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoDeploy = true

	msg := onlineMessage(cfg)
	assert.Contains(t, msg, "https://app.example.com")
	assert.Contains(t, msg, "every 2m0s")
	assert.Contains(t, msg, "auto-fix on, auto-deploy on")
}
