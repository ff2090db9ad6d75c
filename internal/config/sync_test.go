package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewSyncConfigHolder_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	holder, err := NewSyncConfigHolder(zaptest.NewLogger(t))
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 7, cfg.Billing.DueSoonWindowDays)
	assert.Equal(t, 30, cfg.Billing.DefaultCycleDays)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Sync.DrainInterval)
}

func TestNewSyncConfigHolder_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	body := []byte(`billing:
  dueSoonWindowDays: 3
  graceDays: 2
  defaultCycleDays: 28
sync:
  maxRetries: 5
  drainInterval: 30s
  refreshInterval: 5m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sync.yml"), body, 0o600))

	holder, err := NewSyncConfigHolder(zaptest.NewLogger(t))
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 3, cfg.Billing.DueSoonWindowDays)
	assert.Equal(t, 2, cfg.Billing.GraceDays)
	assert.Equal(t, 28, cfg.Billing.DefaultCycleDays)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sync.DrainInterval)
	assert.Equal(t, 24*time.Hour, cfg.Sync.ReminderInterval)
}

func TestValidateSyncConfig(t *testing.T) {
	cfg := DefaultSyncConfig()
	require.NoError(t, validateSyncConfig(cfg))

	cfg.Billing.DefaultCycleDays = 0
	assert.Error(t, validateSyncConfig(cfg))

	cfg = DefaultSyncConfig()
	cfg.Sync.DrainInterval = 0
	assert.Error(t, validateSyncConfig(cfg))
}

func TestLoad_RemoteConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REMOTE_BASE_URL", "https://gym.example.com/api/")
	t.Setenv("REMOTE_TIMEOUT", "3s")

	cfg := Load()
	assert.True(t, cfg.Remote.Enabled())
	assert.Equal(t, "https://gym.example.com/api", cfg.Remote.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "sqlite", cfg.DBType)
}
