// Package config loads all engine settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/climbox/telemetry-engine/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Locations this engine reconciles.
	LocationIDs []string

	// Live MQTT feed.
	MQTTBrokerURL       string
	MQTTClientID        string
	MQTTUsername        string
	MQTTPassword        string
	MQTTTopicBase       string
	MQTTWildcard        bool
	MQTTReconnectPeriod time.Duration

	// History export.
	SheetURLTemplate       string
	SheetNamePattern       string
	SheetNameOverride      string
	SheetNameFallback      string
	HistoryRefreshInterval time.Duration
	HistoryFetchTimeout    time.Duration
	HistoryBufferSize      int

	// Field alias matching.
	AliasFallback bool

	// Durable cache.
	CacheDir string

	// Alert sink.
	KafkaBrokers     []string
	KafkaAlertsTopic string

	// Threshold sources. DatabaseURL empty means static thresholds only.
	DatabaseURL       string
	ThresholdDefaults string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	reconnectPeriod, err := parseDuration("MQTT_RECONNECT_PERIOD", "30s")
	if err != nil {
		return nil, err
	}
	refreshInterval, err := parseDuration("HISTORY_REFRESH_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("HISTORY_FETCH_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	bufferSize, err := parseBoundedInt("HISTORY_BUFFER_SIZE", 20, 1, 1000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		LocationIDs: parseList(envOrDefault("LOCATION_IDS", "")),

		MQTTBrokerURL:       envOrDefault("MQTT_BROKER_URL", "tcp://broker.emqx.io:1883"),
		MQTTClientID:        envOrDefault("MQTT_CLIENT_ID", "telemetry-engine"),
		MQTTUsername:        os.Getenv("MQTT_USERNAME"),
		MQTTPassword:        os.Getenv("MQTT_PASSWORD"),
		MQTTTopicBase:       envOrDefault("MQTT_TOPIC_BASE", "climbox"),
		MQTTWildcard:        envOrDefault("MQTT_WILDCARD", "false") == "true",
		MQTTReconnectPeriod: reconnectPeriod,

		SheetURLTemplate:       os.Getenv("SHEET_URL"),
		SheetNamePattern:       envOrDefault("SHEET_NAME_PATTERN", "readings_{date}"),
		SheetNameOverride:      os.Getenv("SHEET_NAME_OVERRIDE"),
		SheetNameFallback:      envOrDefault("SHEET_NAME_FALLBACK", "Sheet1"),
		HistoryRefreshInterval: refreshInterval,
		HistoryFetchTimeout:    fetchTimeout,
		HistoryBufferSize:      bufferSize,

		AliasFallback: envOrDefault("ALIAS_FALLBACK", "true") == "true",

		CacheDir: envOrDefault("CACHE_DIR", "./cache"),

		KafkaBrokers:     parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaAlertsTopic: envOrDefault("KAFKA_ALERTS_TOPIC", "sensor-alerts"),

		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ThresholdDefaults: os.Getenv("THRESHOLD_DEFAULTS"),
	}

	if len(cfg.LocationIDs) == 0 {
		return nil, errors.New("LOCATION_IDS is required")
	}
	for _, id := range cfg.LocationIDs {
		if !domain.ValidLocationID(id) {
			return nil, fmt.Errorf("LOCATION_IDS: %q is not a valid location id", id)
		}
	}
	if cfg.MQTTBrokerURL == "" {
		return nil, errors.New("MQTT_BROKER_URL is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaAlertsTopic == "" {
		return nil, errors.New("KAFKA_BROKERS is set but KAFKA_ALERTS_TOPIC is empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseList splits a comma-separated env value, dropping empty entries.
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBoundedInt(key string, fallback, min, max int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d,%d]", key, min, max)
	}
	return n, nil
}
