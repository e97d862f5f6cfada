// Package config holds runtime configuration and the fixed operational
// constants for the collector. Configuration is environment-first: every
// knob has a default and can be overridden by an environment variable of
// the same name.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Selector thresholds. A window of at least DatabaseMinSpan prefers the
// recorder database; at least StatisticsAPIMinSpan prefers the hourly
// statistics endpoint; the raw history API is always the last resort.
const (
	DatabaseMinSpan      = 3 * 24 * time.Hour
	StatisticsAPIMinSpan = 30 * 24 * time.Hour
)

// SanityMinSpan is the smallest window for which an empty fetch result is
// suspicious enough to try the next source.
const SanityMinSpan = 2 * 24 * time.Hour

// Retry policy for transient fetch failures.
const (
	FetchRetryBaseDelay = 2 * time.Second
	DefaultFetchRetries = 3
)

// DefaultWorkers bounds concurrent sensor collection.
const DefaultWorkers = 4

// Timeouts.
const (
	DefaultHTTPTimeout  = 30 * time.Second
	ProbeTimeout        = 5 * time.Second
	DatabaseOpenTimeout = 5 * time.Second
	MergeTimeout        = 2 * time.Minute
)

// HTTP server timeouts.
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

// DefaultAnchorDate is the designated beginning of tracking: the first run
// backfills from here instead of unbounded history.
const DefaultAnchorDate = "2025-09-27T00:00:00Z"

// Load registers defaults and enables environment overrides. Call once at
// startup before any getter.
func Load() error {
	viper.SetDefault("HA_URL", "http://homeassistant.local:8123")
	viper.SetDefault("HA_TOKEN", "")
	viper.SetDefault("HA_DB_PATH", "") // optional override, tried before the well-known paths
	viper.SetDefault("SENSOR_CSV", "./ha_sensors.csv")
	viper.SetDefault("DATA_DIR", "./data/energysync")
	viper.SetDefault("ANCHOR_DATE", DefaultAnchorDate)
	viper.SetDefault("RUN_INTERVAL", "1h")
	viper.SetDefault("WORKERS", 4)
	viper.SetDefault("HEALTH_ADDR", ":8099")
	viper.SetDefault("HTTP_TIMEOUT", "30s")
	viper.SetDefault("FETCH_RETRIES", DefaultFetchRetries)

	// Per-source enable flags. The history API cannot be disabled: it is the
	// guaranteed fallback.
	viper.SetDefault("SOURCE_DATABASE_ENABLED", true)
	viper.SetDefault("SOURCE_STATISTICS_API_ENABLED", true)

	// Optional MQTT run-summary notifications.
	viper.SetDefault("MQTT_BROKER", "")
	viper.SetDefault("MQTT_TOPIC", "energysync/run")

	viper.AutomaticEnv()
	return nil
}

func HAURL() string           { return viper.GetString("HA_URL") }
func HAToken() string         { return viper.GetString("HA_TOKEN") }
func HADBPath() string        { return viper.GetString("HA_DB_PATH") }
func SensorCSV() string       { return viper.GetString("SENSOR_CSV") }
func DataDir() string         { return viper.GetString("DATA_DIR") }
func HealthAddr() string      { return viper.GetString("HEALTH_ADDR") }
func Workers() int            { return viper.GetInt("WORKERS") }
func FetchRetries() int       { return viper.GetInt("FETCH_RETRIES") }
func MQTTBroker() string      { return viper.GetString("MQTT_BROKER") }
func MQTTTopic() string       { return viper.GetString("MQTT_TOPIC") }
func DatabaseEnabled() bool   { return viper.GetBool("SOURCE_DATABASE_ENABLED") }
func StatisticsEnabled() bool { return viper.GetBool("SOURCE_STATISTICS_API_ENABLED") }

// RunInterval returns the scheduler period between collection runs.
func RunInterval() time.Duration {
	d := viper.GetDuration("RUN_INTERVAL")
	if d <= 0 {
		return time.Hour
	}
	return d
}

// HTTPTimeout returns the per-request timeout for the API clients.
func HTTPTimeout() time.Duration {
	d := viper.GetDuration("HTTP_TIMEOUT")
	if d <= 0 {
		return DefaultHTTPTimeout
	}
	return d
}

// AnchorDate returns the configured historical anchor. Falls back to the
// built-in default if the configured value does not parse.
func AnchorDate() time.Time {
	t, err := time.Parse(time.RFC3339, viper.GetString("ANCHOR_DATE"))
	if err != nil {
		t, _ = time.Parse(time.RFC3339, DefaultAnchorDate)
	}
	return t.UTC()
}
