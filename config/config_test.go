package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	// load from an empty file so only defaults apply
	path := filepath.Join(t.TempDir(), "chime.toml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8450, cfg.Server.Port)
	assert.Equal(t, "data", cfg.Store.Dir)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.CheckInterval())
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.StuckThreshold())
	assert.Equal(t, 30, cfg.Limits.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Alerts.FailureThreshold)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.False(t, cfg.Log.JSON)
}

func TestLoadFromFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chime.toml")
	content := `
[server]
port = 9000

[scheduler]
check_interval_seconds = 5

[alerts]
failure_threshold = 10
notify_target = "ops-channel"

[log]
json = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.CheckInterval())
	assert.Equal(t, 10, cfg.Alerts.FailureThreshold)
	assert.Equal(t, "ops-channel", cfg.Alerts.NotifyTarget)
	assert.True(t, cfg.Log.JSON)

	// untouched sections keep defaults
	assert.Equal(t, 100, cfg.Limits.MemoryMB)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
