package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stewart/internal/kinematics"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, ":8000", cfg.GetListen())
	assert.Equal(t, "", cfg.GetSerialPort())
	assert.Equal(t, 115200, cfg.GetBaudRate())
	assert.Equal(t, kinematics.DefaultGeometry(), cfg.GetGeometry())
	assert.Equal(t, 60.0, cfg.GetTickRateHz())
	assert.Equal(t, 1500*time.Millisecond, cfg.GetHomingDuration())
	assert.Equal(t, 2*time.Second, cfg.GetStopTimeout())
	assert.Equal(t, 256, cfg.GetTelemetryQueue())
	assert.Equal(t, 50*time.Millisecond, cfg.GetDevFrameInterval())
	assert.Equal(t, 5*time.Second, cfg.GetWSWriteTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetWSPingInterval())
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsFileMatchesAccessors(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)

	empty := &Config{}
	assert.Equal(t, empty.GetListen(), cfg.GetListen())
	assert.Equal(t, empty.GetBaudRate(), cfg.GetBaudRate())
	assert.Equal(t, empty.GetTickRateHz(), cfg.GetTickRateHz())
	assert.Equal(t, empty.GetHomingDuration(), cfg.GetHomingDuration())
	assert.Equal(t, empty.GetStopTimeout(), cfg.GetStopTimeout())
	assert.Equal(t, empty.GetTelemetryQueue(), cfg.GetTelemetryQueue())
	assert.Equal(t, empty.GetDevFrameInterval(), cfg.GetDevFrameInterval())
	assert.Equal(t, empty.GetWSWriteTimeout(), cfg.GetWSWriteTimeout())
	assert.Equal(t, empty.GetWSPingInterval(), cfg.GetWSPingInterval())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "stewart.json", `{
  "listen": "127.0.0.1:9000",
  "serial_port": "/dev/ttyACM0",
  "baud_rate": 57600,
  "tick_rate_hz": 100,
  "homing_duration": "3s",
  "geometry": {
    "base_points": [[1,0,0],[2,0,0],[3,0,0],[4,0,0],[5,0,0],[6,0,0]],
    "platform_points": [[1,1,0],[2,1,0],[3,1,0],[4,1,0],[5,1,0],[6,1,0]],
    "h0": 520,
    "stroke_min": 480,
    "stroke_max": 660
  }
}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.GetListen())
	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialPort())
	assert.Equal(t, 57600, cfg.GetBaudRate())
	assert.Equal(t, 100.0, cfg.GetTickRateHz())
	assert.Equal(t, 3*time.Second, cfg.GetHomingDuration())
	// Unset fields keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.GetStopTimeout())

	g := cfg.GetGeometry()
	assert.Equal(t, 520.0, g.HomeHeight)
	assert.Equal(t, kinematics.Point{6, 1, 0}, g.Platform[5])
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "stewart.yaml", `{}`, ".json extension"},
		{"syntax", "bad.json", `{"listen":`, "parse config JSON"},
		{"baud", "baud.json", `{"baud_rate": 1234}`, "unsupported baud rate"},
		{"tick rate", "tick.json", `{"tick_rate_hz": 0}`, "tick_rate_hz"},
		{"queue", "queue.json", `{"telemetry_queue": 0}`, "telemetry_queue"},
		{"duration", "dur.json", `{"homing_duration": "soon"}`, "homing_duration"},
		{"negative duration", "neg.json", `{"stop_timeout": "-1s"}`, "stop_timeout must be positive"},
		{"geometry", "geo.json", `{"geometry": {"h0": 530, "stroke_min": 600, "stroke_max": 500}}`, "invalid platform geometry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "failed to stat")
}

func TestLoadConfig_TooLarge(t *testing.T) {
	body := `{"listen": "` + strings.Repeat("x", maxFileSize) + `"}`
	_, err := LoadConfig(writeConfig(t, "big.json", body))
	assert.ErrorContains(t, err, "too large")
}

func TestUnparseableDurationFallsBack(t *testing.T) {
	bad := "later"
	cfg := &Config{WSPingInterval: &bad}
	assert.Equal(t, 30*time.Second, cfg.GetWSPingInterval())
}
