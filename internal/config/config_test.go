package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/powermon/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "powermon.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
interval = 60
high_power_threshold = 3.5
low_battery_percent = 25
critical_battery_percent = 12
notification_cooldown = 30
retention_days = 90
max_database_size_mb = 250
database = "/var/lib/powermon/history.db"
log_level = "debug"
notifications = false
auto_start = false
syncthing_url = "http://localhost:9999"
syncthing_api_key = "abc123"
`)
	t.Setenv("POWERMON_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Interval, "Expected Interval 60")
	assert.InDelta(t, 3.5, cfg.HighPowerThreshold, 0.001, "Expected HighPowerThreshold 3.5")
	assert.Equal(t, 25, cfg.LowBatteryPercent, "Expected LowBatteryPercent 25")
	assert.Equal(t, 12, cfg.CriticalBatteryPercent, "Expected CriticalBatteryPercent 12")
	assert.Equal(t, 30, cfg.NotificationCooldown, "Expected NotificationCooldown 30")
	assert.Equal(t, 90, cfg.RetentionDays, "Expected RetentionDays 90")
	assert.Equal(t, 250, cfg.MaxDatabaseSizeMB, "Expected MaxDatabaseSizeMB 250")
	assert.Equal(t, "/var/lib/powermon/history.db", cfg.Database)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.False(t, cfg.Notifications, "Expected Notifications false")
	assert.False(t, cfg.AutoStart, "Expected AutoStart false")
	assert.Equal(t, "http://localhost:9999", cfg.SyncthingURL)
	assert.Equal(t, "abc123", cfg.SyncthingAPIKey)
}

func TestLoadDefaults(t *testing.T) {
	// Point at a path that does not exist so no stray file interferes
	t.Setenv("POWERMON_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, 30, cfg.Interval, "Expected default Interval 30")
	assert.InDelta(t, 2.0, cfg.HighPowerThreshold, 0.001, "Expected default HighPowerThreshold 2.0")
	assert.Equal(t, 20, cfg.LowBatteryPercent, "Expected default LowBatteryPercent 20")
	assert.Equal(t, 10, cfg.CriticalBatteryPercent, "Expected default CriticalBatteryPercent 10")
	assert.Equal(t, 15, cfg.NotificationCooldown, "Expected default NotificationCooldown 15")
	assert.Equal(t, 30, cfg.RetentionDays, "Expected default RetentionDays 30")
	assert.Equal(t, 100, cfg.MaxDatabaseSizeMB, "Expected default MaxDatabaseSizeMB 100")
	assert.Equal(t, "data/power_history.db", cfg.Database)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "Expected default LogLevel info")
	assert.True(t, cfg.Notifications, "Expected default Notifications true")
	assert.True(t, cfg.AutoStart, "Expected default AutoStart true")
	assert.Equal(t, "http://localhost:8384", cfg.SyncthingURL)
}

func TestLoadClampsOutOfRangeValues(t *testing.T) {
	configPath := writeConfig(t, `
interval = 1
high_power_threshold = 500.0
retention_days = 9000
notification_cooldown = 0
`)
	t.Setenv("POWERMON_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err, "Expected out-of-range values clamped, not rejected")

	assert.Equal(t, 5, cfg.Interval, "Expected Interval clamped to minimum")
	assert.InDelta(t, 50.0, cfg.HighPowerThreshold, 0.001, "Expected threshold clamped to maximum")
	assert.Equal(t, 365, cfg.RetentionDays, "Expected RetentionDays clamped to maximum")
	assert.Equal(t, 1, cfg.NotificationCooldown, "Expected cooldown clamped to minimum")
}

func TestLoadForcesCriticalBelowLow(t *testing.T) {
	configPath := writeConfig(t, `
low_battery_percent = 15
critical_battery_percent = 18
`)
	t.Setenv("POWERMON_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.LowBatteryPercent)
	assert.Equal(t, 10, cfg.CriticalBatteryPercent, "Expected critical forced below low")
}

func TestLoadInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
log_level = "noisy"
`)
	t.Setenv("POWERMON_CONFIG", configPath)

	_, err := config.Load()
	assert.Error(t, err, "Expected error for unknown log level")
}

func TestLoadInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("POWERMON_CONFIG", configPath)

	_, err := config.Load()
	assert.Error(t, err, "Expected error for malformed config file")
}

func TestThresholdPerHour(t *testing.T) {
	cfg := &config.Config{HighPowerThreshold: 2.0}

	assert.InDelta(t, 12.0, cfg.ThresholdPerHour(), 0.001, "Expected %/10min converted to %/hour")
}
