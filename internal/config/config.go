package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/powermon/internal/errors"
)

const (
	DefaultLogLevel = "info"

	defaultInterval          = 30
	defaultThreshold         = 2.0
	defaultLowBattery        = 20
	defaultCriticalBattery   = 10
	defaultCooldownMinutes   = 15
	defaultRetentionDays     = 30
	defaultMaxDatabaseSizeMB = 100
	defaultDatabasePath      = "data/power_history.db"

	minInterval, maxInterval           = 5, 300
	minThreshold, maxThreshold         = 0.1, 50.0
	minLowBattery, maxLowBattery       = 5, 50
	minCritBattery, maxCritBattery     = 1, 20
	minCooldown, maxCooldown           = 1, 120
	minRetentionDays, maxRetentionDays = 1, 365
)

// Config holds all runtime settings. Values are clamped to their valid
// ranges at load time, never rejected.
type Config struct {
	Interval               int     `mapstructure:"interval"`
	HighPowerThreshold     float64 `mapstructure:"high_power_threshold"`
	LowBatteryPercent      int     `mapstructure:"low_battery_percent"`
	CriticalBatteryPercent int     `mapstructure:"critical_battery_percent"`
	NotificationCooldown   int     `mapstructure:"notification_cooldown"`
	RetentionDays          int     `mapstructure:"retention_days"`
	MaxDatabaseSizeMB      int     `mapstructure:"max_database_size_mb"`
	Database               string  `mapstructure:"database"`
	LogLevel               string  `mapstructure:"log_level"`
	Notifications          bool    `mapstructure:"notifications"`
	AutoStart              bool    `mapstructure:"auto_start"`
	SyncthingURL           string  `mapstructure:"syncthing_url"`
	SyncthingAPIKey        string  `mapstructure:"syncthing_api_key"`
}

// Load reads configuration from powermon.toml, applies defaults and merges
// command line flags over file values. The config file is searched in /etc
// unless POWERMON_CONFIG points at an explicit path.
func Load() (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	v.SetDefault("interval", defaultInterval)
	v.SetDefault("high_power_threshold", defaultThreshold)
	v.SetDefault("low_battery_percent", defaultLowBattery)
	v.SetDefault("critical_battery_percent", defaultCriticalBattery)
	v.SetDefault("notification_cooldown", defaultCooldownMinutes)
	v.SetDefault("retention_days", defaultRetentionDays)
	v.SetDefault("max_database_size_mb", defaultMaxDatabaseSizeMB)
	v.SetDefault("database", defaultDatabasePath)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("notifications", true)
	v.SetDefault("auto_start", true)
	v.SetDefault("syncthing_url", "http://localhost:8384")
	v.SetDefault("syncthing_api_key", "")

	if path := os.Getenv("POWERMON_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("powermon")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	flags := pflag.NewFlagSet("powermon", pflag.ContinueOnError)
	// Tolerate flags owned by other parsers, such as the test binary's
	flags.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
	flags.Int("interval", defaultInterval, "Seconds between metric samples")
	flags.Float64("high-power-threshold", defaultThreshold, "High power threshold in percent per 10 minutes")
	flags.Int("retention-days", defaultRetentionDays, "Days of history to keep")
	flags.String("database", defaultDatabasePath, "Path to the metrics database")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Bool("no-auto-start", false, "Do not start sampling on launch")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	flags.Visit(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if f.Name == "no-auto-start" {
			v.Set("auto_start", false)
			return
		}
		v.Set(key, f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	config.clamp()

	if !isValidLogLevel(config.LogLevel) {
		return nil, errFactory.WithData(errors.ErrInvalidLogLevel, config.LogLevel)
	}

	return config, nil
}

// clamp forces every numeric setting into its valid range. Out-of-range
// values are a soft error: the daemon keeps running on the nearest bound.
func (c *Config) clamp() {
	c.Interval = clampInt(c.Interval, minInterval, maxInterval)
	c.HighPowerThreshold = clampFloat(c.HighPowerThreshold, minThreshold, maxThreshold)
	c.LowBatteryPercent = clampInt(c.LowBatteryPercent, minLowBattery, maxLowBattery)
	c.CriticalBatteryPercent = clampInt(c.CriticalBatteryPercent, minCritBattery, maxCritBattery)
	c.NotificationCooldown = clampInt(c.NotificationCooldown, minCooldown, maxCooldown)
	c.RetentionDays = clampInt(c.RetentionDays, minRetentionDays, maxRetentionDays)

	if c.MaxDatabaseSizeMB < 1 {
		c.MaxDatabaseSizeMB = defaultMaxDatabaseSizeMB
	}

	// Critical must stay below the low battery warning level
	if c.CriticalBatteryPercent >= c.LowBatteryPercent {
		c.CriticalBatteryPercent = max(minCritBattery, c.LowBatteryPercent-5)
	}
}

// ThresholdPerHour converts the configured percent-per-10-minutes threshold
// into percent-per-hour, the unit draw rates are expressed in.
func (c *Config) ThresholdPerHour() float64 {
	return c.HighPowerThreshold * 6.0
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "warn", "error":
		return true
	default:
		return false
	}
}

func clampInt(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}

func clampFloat(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}
