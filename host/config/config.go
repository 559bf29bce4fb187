// Package config loads the pcaport tool configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"pcaport/host/bridge"
	"pcaport/host/serial"
)

// Backends accepted in Config.Backend.
const (
	BackendPeriph = "periph"
	BackendBridge = "bridge"
	BackendSim    = "sim"
)

// Config selects how the expander is reached.
type Config struct {
	// Backend is one of periph, bridge or sim.
	Backend string `json:"backend"`

	// I2CBus names the Linux bus for the periph backend, e.g. "1" or
	// "/dev/i2c-1". Empty picks the first bus found.
	I2CBus string `json:"i2c_bus"`

	Serial SerialConfig `json:"serial"`
	Bridge BridgeConfig `json:"bridge"`

	// Verbosity is the logr V-level enabled in the CLI.
	Verbosity int `json:"verbosity"`
}

// SerialConfig is the link to the bridge MCU.
type SerialConfig struct {
	Device        string `json:"device"`
	Baud          int    `json:"baud"`
	ReadTimeoutMS int    `json:"read_timeout_ms"`
}

// BridgeConfig is the I2C bus on the bridge MCU.
type BridgeConfig struct {
	Bus       uint32 `json:"bus"`
	Rate      uint32 `json:"rate"`
	OID       uint8  `json:"oid"`
	TimeoutMS int    `json:"timeout_ms"`
}

// Load reads and parses the JSON file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a JSON configuration and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used without a config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendPeriph
	}
	if cfg.Serial.Device == "" {
		cfg.Serial.Device = "/dev/ttyACM0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 250000
	}
	if cfg.Serial.ReadTimeoutMS == 0 {
		cfg.Serial.ReadTimeoutMS = 100
	}
	if cfg.Bridge.Rate == 0 {
		cfg.Bridge.Rate = 100000
	}
	if cfg.Bridge.TimeoutMS == 0 {
		cfg.Bridge.TimeoutMS = 1000
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendPeriph, BackendBridge, BackendSim:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Backend == BackendBridge && c.Serial.Device == "" {
		errs = append(errs, errors.New("bridge backend needs serial.device"))
	}
	if c.Serial.Baud < 0 || c.Serial.ReadTimeoutMS < 0 || c.Bridge.TimeoutMS < 0 {
		errs = append(errs, errors.New("negative serial or bridge setting"))
	}
	if c.Bridge.Rate > 1000000 {
		errs = append(errs, fmt.Errorf("bridge rate %d above 1MHz", c.Bridge.Rate))
	}
	if c.Verbosity < 0 {
		errs = append(errs, errors.New("negative verbosity"))
	}
	return errors.Join(errs...)
}

// SerialPort converts the serial section for serial.Open.
func (c *Config) SerialPort() *serial.Config {
	return &serial.Config{
		Device:      c.Serial.Device,
		Baud:        c.Serial.Baud,
		ReadTimeout: time.Duration(c.Serial.ReadTimeoutMS) * time.Millisecond,
	}
}

// BridgeBus converts the bridge section for bridge.New.
func (c *Config) BridgeBus() bridge.Config {
	return bridge.Config{
		Bus:      c.Bridge.Bus,
		Rate:     c.Bridge.Rate,
		FirstOID: c.Bridge.OID,
		Timeout:  time.Duration(c.Bridge.TimeoutMS) * time.Millisecond,
	}
}
