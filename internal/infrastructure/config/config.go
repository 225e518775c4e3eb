package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Config is the root configuration structure for the Smarther bridge.
//
// Configuration is loaded from a JSON snapshot file. Fields absent from the
// file keep their default values, and the merged result is written back so
// the on-disk snapshot always reflects the full effective configuration.
type Config struct {
	// WebhookEndpoint is the public base URL the cloud platform pushes
	// status notifications to. Empty disables the webhook subsystem.
	WebhookEndpoint string `json:"webhook_endpoint,omitempty"`

	MQTTBaseTopic string `json:"mqtt_base_topic"`
	MQTTBroker    string `json:"mqtt_broker"`
	MQTTPort      int    `json:"mqtt_port"`
	MQTTUsername  string `json:"mqtt_username"`
	MQTTPassword  string `json:"mqtt_password"`

	ListenHost string `json:"listen_host"`
	ListenPort int    `json:"listen_port"`

	Logging  LoggingConfig  `json:"logging"`
	History  HistoryConfig  `json:"history"`
	InfluxDB InfluxDBConfig `json:"influxdb"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// HistoryConfig contains settings for the SQLite status history store.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// InfluxDBConfig contains settings for the optional telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	Token         string `json:"token"`
	Org           string `json:"org"`
	Bucket        string `json:"bucket"`
	BatchSize     int    `json:"batch_size"`
	FlushInterval int    `json:"flush_interval"`
}

// Load reads configuration from a JSON file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. JSON file values (override defaults, per field)
//  3. Environment variables (override file values)
//
// A missing file is not an error: the defaults are used, so a first run
// works without any configuration. Call Save afterwards to persist the
// merged result.
//
// Environment variables follow the pattern SMARTHER_SECTION_KEY, for
// example SMARTHER_MQTT_BROKER or SMARTHER_INFLUXDB_TOKEN.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes the merged configuration back to the snapshot file.
//
// The write goes through a temp file and rename so a crash never leaves a
// half-written snapshot behind.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing config snapshot: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with every field set to its default,
// so a missing or sparse snapshot file still yields a runnable bridge.
func defaultConfig() *Config {
	return &Config{
		MQTTBaseTopic: "smarther",
		MQTTBroker:    "localhost",
		MQTTPort:      1883,
		MQTTUsername:  "anonymous",
		MQTTPassword:  "",
		ListenHost:    "localhost",
		ListenPort:    8080,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./data/smartherbridge.db",
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern
// SMARTHER_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("SMARTHER_MQTT_BROKER"); v != "" {
		cfg.MQTTBroker = v
	}
	if v := os.Getenv("SMARTHER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTTPort = port
		}
	}
	if v := os.Getenv("SMARTHER_MQTT_USERNAME"); v != "" {
		cfg.MQTTUsername = v
	}
	if v := os.Getenv("SMARTHER_MQTT_PASSWORD"); v != "" {
		cfg.MQTTPassword = v
	}

	// Webhook
	if v := os.Getenv("SMARTHER_WEBHOOK_ENDPOINT"); v != "" {
		cfg.WebhookEndpoint = v
	}

	// InfluxDB
	if v := os.Getenv("SMARTHER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTTBaseTopic == "" {
		errs = append(errs, "mqtt_base_topic is required")
	}
	if strings.ContainsAny(c.MQTTBaseTopic, "+#") {
		errs = append(errs, "mqtt_base_topic must not contain wildcards")
	}
	if c.MQTTBroker == "" {
		errs = append(errs, "mqtt_broker is required")
	}
	if c.MQTTPort < 1 || c.MQTTPort > 65535 {
		errs = append(errs, "mqtt_port must be between 1 and 65535")
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		errs = append(errs, "listen_port must be between 1 and 65535")
	}
	if c.WebhookEndpoint != "" && !strings.HasPrefix(c.WebhookEndpoint, "http") {
		errs = append(errs, "webhook_endpoint must be an http(s) URL")
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
