// Package config handles configuration loading, validation, and management
// for sunwatch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sunwatch/internal/detect"
)

// Config holds the complete daemon configuration.
type Config struct {
	// MQTT configures the broker connection for live ingestion.
	MQTT MQTTConfig `toml:"mqtt" json:"mqtt" yaml:"mqtt"`

	// Influx configures the time-series database collaborator.
	Influx InfluxConfig `toml:"influx" json:"influx" yaml:"influx"`

	// Detector configures the detection pipeline thresholds.
	Detector DetectorConfig `toml:"detector" json:"detector" yaml:"detector"`

	// Storage configures the local detection archive.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Alerts configures detection sinks.
	Alerts AlertConfig `toml:"alerts" json:"alerts" yaml:"alerts"`

	// Metrics configures the metrics endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Logging configures log output.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	// Host and Port locate the MQTT broker.
	Host string `toml:"host" json:"host" yaml:"host"`
	Port int    `toml:"port" json:"port" yaml:"port"`

	// ClientID identifies this client to the broker.
	ClientID string `toml:"client_id" json:"client_id" yaml:"client_id"`

	// SensorTopic is the topic devices publish measurements on.
	SensorTopic string `toml:"sensor_topic" json:"sensor_topic" yaml:"sensor_topic"`

	// CommandTopic is the topic device commands are published on.
	CommandTopic string `toml:"command_topic" json:"command_topic" yaml:"command_topic"`

	// KeepAliveSec is the MQTT keep-alive interval in seconds.
	KeepAliveSec int `toml:"keep_alive_sec" json:"keep_alive_sec" yaml:"keep_alive_sec"`

	// ReconnectDelaySec is the pause before a reconnect attempt.
	ReconnectDelaySec int `toml:"reconnect_delay_sec" json:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`
}

// InfluxConfig holds InfluxDB v3 connection settings.
type InfluxConfig struct {
	// URL is the base URL of the InfluxDB server.
	URL string `toml:"url" json:"url" yaml:"url"`

	// Token is the bearer token for API calls.
	Token string `toml:"token" json:"token" yaml:"token"`

	// Database is the target database name.
	Database string `toml:"database" json:"database" yaml:"database"`

	// TimeoutSec bounds each HTTP request.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// WriteMeasurements controls whether live readings are written back to
	// the database as they arrive.
	WriteMeasurements bool `toml:"write_measurements" json:"write_measurements" yaml:"write_measurements"`
}

// DetectorConfig exposes every detection threshold. Durations are expressed
// in the units the thresholds are naturally discussed in.
type DetectorConfig struct {
	WindowDurationHours      float64 `toml:"window_duration_hours" json:"window_duration_hours" yaml:"window_duration_hours"`
	MaxGapMinutes            float64 `toml:"max_gap_minutes" json:"max_gap_minutes" yaml:"max_gap_minutes"`
	MinMeasurementsInWindow  int     `toml:"min_measurements_in_window" json:"min_measurements_in_window" yaml:"min_measurements_in_window"`
	TempDeviationThreshold   float64 `toml:"temp_deviation_threshold" json:"temp_deviation_threshold" yaml:"temp_deviation_threshold"`
	HumidityDeviationThresh  float64 `toml:"humidity_deviation_threshold" json:"humidity_deviation_threshold" yaml:"humidity_deviation_threshold"`
	SlopeThreshold           float64 `toml:"slope_threshold" json:"slope_threshold" yaml:"slope_threshold"`
	CorrelationThreshold     float64 `toml:"correlation_threshold" json:"correlation_threshold" yaml:"correlation_threshold"`
	MinSpikeDurationHours    float64 `toml:"min_spike_duration_hours" json:"min_spike_duration_hours" yaml:"min_spike_duration_hours"`
	DaylightStartHour        int     `toml:"daylight_start_hour" json:"daylight_start_hour" yaml:"daylight_start_hour"`
	DaylightEndHour          int     `toml:"daylight_end_hour" json:"daylight_end_hour" yaml:"daylight_end_hour"`
	BaselineHorizonHours     float64 `toml:"baseline_horizon_hours" json:"baseline_horizon_hours" yaml:"baseline_horizon_hours"`
	SampleIntervalMinutes    float64 `toml:"sample_interval_minutes" json:"sample_interval_minutes" yaml:"sample_interval_minutes"`
}

// Params converts the configured thresholds to detector parameters.
func (d DetectorConfig) Params() detect.Params {
	return detect.Params{
		WindowDuration:       time.Duration(d.WindowDurationHours * float64(time.Hour)),
		MaxGap:               time.Duration(d.MaxGapMinutes * float64(time.Minute)),
		MinPoints:            d.MinMeasurementsInWindow,
		TempDeviation:        d.TempDeviationThreshold,
		HumidityDeviation:    d.HumidityDeviationThresh,
		SlopeThreshold:       d.SlopeThreshold,
		CorrelationThreshold: d.CorrelationThreshold,
		MinSpikeDuration:     time.Duration(d.MinSpikeDurationHours * float64(time.Hour)),
		DaylightStart:        d.DaylightStartHour,
		DaylightEnd:          d.DaylightEndHour,
		BaselineHorizon:      time.Duration(d.BaselineHorizonHours * float64(time.Hour)),
		SampleInterval:       time.Duration(d.SampleIntervalMinutes * float64(time.Minute)),
	}
}

// StorageConfig holds the local detection archive settings.
type StorageConfig struct {
	// Enabled controls whether detections are archived locally.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// AlertConfig holds detection sink settings.
type AlertConfig struct {
	// DesktopNotifications sends confirmed detections to the desktop
	// notification service over D-Bus, when a session bus is available.
	DesktopNotifications bool `toml:"desktop_notifications" json:"desktop_notifications" yaml:"desktop_notifications"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP endpoint is served.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the address the endpoint listens on.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
	Output string `toml:"output" json:"output" yaml:"output"`
	File   string `toml:"file" json:"file" yaml:"file"`
}

// DefaultConfig returns the configuration with tuned defaults.
func DefaultConfig() *Config {
	params := detect.DefaultParams()
	return &Config{
		MQTT: MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			ClientID:          "sunwatch-receiver",
			SensorTopic:       "sensors/esp32/sensor",
			CommandTopic:      "sensors/esp32/command",
			KeepAliveSec:      30,
			ReconnectDelaySec: 5,
		},
		Influx: InfluxConfig{
			TimeoutSec:        10,
			WriteMeasurements: true,
		},
		Detector: DetectorConfig{
			WindowDurationHours:     params.WindowDuration.Hours(),
			MaxGapMinutes:           params.MaxGap.Minutes(),
			MinMeasurementsInWindow: params.MinPoints,
			TempDeviationThreshold:  params.TempDeviation,
			HumidityDeviationThresh: params.HumidityDeviation,
			SlopeThreshold:          params.SlopeThreshold,
			CorrelationThreshold:    params.CorrelationThreshold,
			MinSpikeDurationHours:   params.MinSpikeDuration.Hours(),
			DaylightStartHour:       params.DaylightStart,
			DaylightEndHour:         params.DaylightEnd,
			BaselineHorizonHours:    params.BaselineHorizon.Hours(),
			SampleIntervalMinutes:   params.SampleInterval.Minutes(),
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    filepath.Join(sunwatchDir(), "detections.db"),
		},
		Alerts: AlertConfig{},
		Metrics: MetricsConfig{
			ListenAddr: "localhost:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// sunwatchDir returns the per-user state directory.
func sunwatchDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sunwatch"
	}
	return filepath.Join(home, ".sunwatch")
}

// ConfigPath returns the default configuration file location.
func ConfigPath() string {
	return filepath.Join(sunwatchDir(), "config.toml")
}

// ApplyEnvOverrides applies the environment variables the original deployment
// scripts use. Environment always wins over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MQTT_BROKER_HOST"); v != "" {
		c.MQTT.Host = v
	}
	if v := os.Getenv("MQTT_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTT.Port = port
		}
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTT.SensorTopic = v
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		c.Influx.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("INFLUXDB_DATABASE"); v != "" {
		c.Influx.Database = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt: host must not be empty")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt: port %d out of range", c.MQTT.Port)
	}
	if c.MQTT.SensorTopic == "" {
		return fmt.Errorf("mqtt: sensor topic must not be empty")
	}
	if c.MQTT.KeepAliveSec <= 0 {
		return fmt.Errorf("mqtt: keep-alive must be positive")
	}
	if c.Influx.TimeoutSec <= 0 {
		return fmt.Errorf("influx: timeout must be positive")
	}
	if err := c.Detector.Params().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage: path must be set when enabled")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics: listen address must be set when enabled")
	}
	return nil
}
