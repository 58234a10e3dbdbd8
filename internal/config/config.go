// Package config loads the optional JSON service configuration. Every field
// is optional; the Get* accessors supply the default for anything unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/serialmux"
)

// DefaultConfigPath is the checked-in file holding the default values.
const DefaultConfigPath = "config/stewart.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the service configuration. Geometry, when present, seeds the
// settings store on first start; a stored geometry takes precedence.
type Config struct {
	Listen     *string              `json:"listen,omitempty"`
	SerialPort *string              `json:"serial_port,omitempty"`
	BaudRate   *int                 `json:"baud_rate,omitempty"`
	Geometry   *kinematics.Geometry `json:"geometry,omitempty"`

	// Motion
	TickRateHz     *float64 `json:"tick_rate_hz,omitempty"`
	HomingDuration *string  `json:"homing_duration,omitempty"` // duration string like "1.5s"
	StopTimeout    *string  `json:"stop_timeout,omitempty"`

	// Telemetry
	TelemetryQueue   *int    `json:"telemetry_queue,omitempty"`
	DevFrameInterval *string `json:"dev_frame_interval,omitempty"`
	WSWriteTimeout   *string `json:"ws_write_timeout,omitempty"`
	WSPingInterval   *string `json:"ws_ping_interval,omitempty"`
}

// LoadConfig reads a Config from a JSON file. The file must have a .json
// extension and be under 1MB. Omitted fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *Config) Validate() error {
	if c.BaudRate != nil {
		if _, err := (serialmux.PortOptions{BaudRate: *c.BaudRate}).Normalise(); err != nil {
			return err
		}
	}
	if c.Geometry != nil {
		if err := c.Geometry.Validate(); err != nil {
			return err
		}
	}
	if c.TickRateHz != nil && (*c.TickRateHz <= 0 || *c.TickRateHz > 1000) {
		return fmt.Errorf("tick_rate_hz must be in (0, 1000], got %g", *c.TickRateHz)
	}
	if c.TelemetryQueue != nil && *c.TelemetryQueue < 1 {
		return fmt.Errorf("telemetry_queue must be positive, got %d", *c.TelemetryQueue)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"homing_duration", c.HomingDuration},
		{"stop_timeout", c.StopTimeout},
		{"dev_frame_interval", c.DevFrameInterval},
		{"ws_write_timeout", c.WSWriteTimeout},
		{"ws_ping_interval", c.WSPingInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8000"
	}
	return *c.Listen
}

// GetSerialPort returns the port to open at startup, or "" for none.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.BaudRate
}

// GetGeometry returns the configured geometry or the reference rig.
func (c *Config) GetGeometry() kinematics.Geometry {
	if c.Geometry == nil {
		return kinematics.DefaultGeometry()
	}
	return *c.Geometry
}

func (c *Config) GetTickRateHz() float64 {
	if c.TickRateHz == nil {
		return 60
	}
	return *c.TickRateHz
}

func (c *Config) GetHomingDuration() time.Duration {
	return durationOr(c.HomingDuration, 1500*time.Millisecond)
}

// GetStopTimeout bounds how long a stop waits for the control loop to exit.
func (c *Config) GetStopTimeout() time.Duration {
	return durationOr(c.StopTimeout, 2*time.Second)
}

func (c *Config) GetTelemetryQueue() int {
	if c.TelemetryQueue == nil {
		return 256
	}
	return *c.TelemetryQueue
}

// GetDevFrameInterval is the frame period of the simulated controller.
func (c *Config) GetDevFrameInterval() time.Duration {
	return durationOr(c.DevFrameInterval, 50*time.Millisecond)
}

func (c *Config) GetWSWriteTimeout() time.Duration {
	return durationOr(c.WSWriteTimeout, 5*time.Second)
}

func (c *Config) GetWSPingInterval() time.Duration {
	return durationOr(c.WSPingInterval, 30*time.Second)
}
