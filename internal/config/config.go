// internal/config/config.go

// Package config loads and checks the daemon configuration: one YAML
// file, with MQTT credentials overridable from the environment so
// secrets stay out of the file.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Pumpd PumpdConfig `yaml:"pumpd"`
}

type PumpdConfig struct {
	Serial       SerialConfig         `yaml:"serial"`
	Poll         PollConfig           `yaml:"poll"`
	Sink         SinkConfig           `yaml:"sink"`
	MQTT         *MQTTConfig          `yaml:"mqtt"`
	Devices      []DeviceConfig       `yaml:"devices"`
	RegisterMaps map[string]MapConfig `yaml:"register_maps"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Port      string `yaml:"port"`
	BaudRate  int    `yaml:"baud_rate"`
	DataBits  int    `yaml:"data_bits"`
	Parity    string `yaml:"parity"`
	StopBits  int    `yaml:"stop_bits"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Retries   *int   `yaml:"retries"` // nil means default; 0 is valid
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`
	StaleAfter int `yaml:"stale_after"`
}

// ---- SINK ----

type SinkConfig struct {
	CSVDir string `yaml:"csv_dir"` // empty disables the CSV sink
}

// ---- MQTT (optional) ----

type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BaseTopic string `yaml:"base_topic"`
}

// ---- DEVICES ----

type DeviceConfig struct {
	Label   string `yaml:"label"`
	Address uint8  `yaml:"address"`
	Map     string `yaml:"map"` // built-in name or register_maps key
}

// ---- CUSTOM REGISTER MAPS ----

type MapConfig struct {
	Fields map[string]FieldConfig `yaml:"fields"`
}

type FieldConfig struct {
	Table   string  `yaml:"table"`
	Address uint16  `yaml:"address"`
	Count   uint16  `yaml:"count"`
	Codec   string  `yaml:"codec"`
	Scale   float64 `yaml:"scale"`
}

// Load reads and parses the config file. A .env file, if present, and
// the process environment may override MQTT credentials via
// PUMPD_MQTT_USERNAME / PUMPD_MQTT_PASSWORD.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	_ = godotenv.Load() // ignore error, fallback to env vars
	if cfg.Pumpd.MQTT != nil {
		if v := os.Getenv("PUMPD_MQTT_USERNAME"); v != "" {
			cfg.Pumpd.MQTT.Username = v
		}
		if v := os.Getenv("PUMPD_MQTT_PASSWORD"); v != "" {
			cfg.Pumpd.MQTT.Password = v
		}
	}

	return &cfg, nil
}
