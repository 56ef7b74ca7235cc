package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "file", cfg.Schema.Source)
	assert.Equal(t, 25, cfg.Crawl.MaxPages)
	assert.Equal(t, 2, cfg.Crawl.MaxDepth)
	assert.Equal(t, []string{"/blog/", "/news/", "/press/", "/careers/"}, cfg.Crawl.ExcludePaths)
	assert.Equal(t, 4, cfg.Synthesis.Concurrency)
	assert.InDelta(t, 0.7, cfg.Synthesis.DefaultThreshold, 1e-9)
	assert.InDelta(t, 0.1, cfg.Synthesis.CorroborationBoost, 1e-9)
	assert.InDelta(t, 0.15, cfg.Synthesis.SourceHintBoost, 1e-9)
	assert.Equal(t, 3, cfg.Workflow.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Workflow.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Workflow.MaxDelay)
	assert.Equal(t, 2*time.Minute, cfg.Workflow.StepTimeout)
	assert.True(t, cfg.Workflow.ResumeOnStartup)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("INTAKE_STORE_DRIVER", "sqlite")
	t.Setenv("INTAKE_SERVER_PORT", "9090")
	t.Setenv("INTAKE_WORKFLOW_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Workflow.MaxAttempts)
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
}
