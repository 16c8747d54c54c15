// Package config loads the host-process bootstrap file: which devices to
// manage, how to size their stream buffers, how to log, and how often the
// housekeeping sweep runs. It never stores device-side configuration
// (sample rate, gain, channel mask) — that lives on the device itself.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the complete bootstrap configuration for a host process
// managing one or more ZET 017 devices.
type ServerConfig struct {
	Server    ServerInfo    `yaml:"server"`
	Logging   LoggingInfo   `yaml:"logging"`
	Devices   []DeviceEntry `yaml:"devices"`
	Buffers   BuffersInfo   `yaml:"buffers"`
	Reconnect ReconnectInfo `yaml:"reconnect"`
}

// ServerInfo holds registry-wide settings.
type ServerInfo struct {
	// HousekeepingSchedule is a cron expression for the cross-device
	// health sweep. LoadServerConfig replaces an empty value with
	// "@every 5m"; a ServerConfig built in code with an empty value runs
	// no sweep.
	HousekeepingSchedule string `yaml:"housekeeping_schedule"`
}

// LoggingInfo holds logging settings.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DeviceEntry names one device to manage at startup.
type DeviceEntry struct {
	IP string `yaml:"ip"`
}

// BuffersInfo sizes the per-device stream buffers.
type BuffersInfo struct {
	// ADCSeconds multiplies the one-second worst-case ADC buffer.
	ADCSeconds int `yaml:"adc_seconds"`
	// DACMultiplier multiplies the one-second worst-case DAC buffer.
	DACMultiplier int `yaml:"dac_multiplier"`
}

// ReconnectInfo bounds reconnect behavior across the whole registry.
type ReconnectInfo struct {
	// MinDelay is parsed and defaulted to 100ms but not applied: every
	// device pauses a fixed 100ms between failed connect attempts.
	MinDelay time.Duration `yaml:"min_delay"`
	// MaxDialRateHz caps aggregate dial attempts per second across all
	// devices. Zero disables the cap.
	MaxDialRateHz float64 `yaml:"max_dial_rate_hz"`
}

// LoadServerConfig reads and validates the YAML bootstrap file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) applyDefaults() {
	if c.Server.HousekeepingSchedule == "" {
		c.Server.HousekeepingSchedule = "@every 5m"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Buffers.ADCSeconds == 0 {
		c.Buffers.ADCSeconds = 1
	}
	if c.Buffers.DACMultiplier == 0 {
		c.Buffers.DACMultiplier = 4
	}
	if c.Reconnect.MinDelay == 0 {
		c.Reconnect.MinDelay = 100 * time.Millisecond
	}
}

func (c *ServerConfig) validate() error {
	for i, dev := range c.Devices {
		if dev.IP == "" {
			return fmt.Errorf("devices[%d].ip is required", i)
		}
		if net.ParseIP(dev.IP) == nil {
			return fmt.Errorf("devices[%d].ip %q is not a valid IP address", i, dev.IP)
		}
	}
	if c.Buffers.ADCSeconds < 0 {
		return fmt.Errorf("buffers.adc_seconds must be positive")
	}
	if c.Buffers.DACMultiplier < 0 {
		return fmt.Errorf("buffers.dac_multiplier must be positive")
	}
	if c.Reconnect.MaxDialRateHz < 0 {
		return fmt.Errorf("reconnect.max_dial_rate_hz must not be negative")
	}
	return nil
}
