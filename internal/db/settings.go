package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/serialmux"
)

// LoadGeometry returns the stored platform geometry, or nil when none has
// been saved yet.
func (db *DB) LoadGeometry() (*kinematics.Geometry, error) {
	var (
		g                  kinematics.Geometry
		baseJSON, platJSON string
	)
	err := db.QueryRow(`SELECT base_points, platform_points, h0, stroke_min, stroke_max
	                    FROM platform_geometry WHERE id = 1`).
		Scan(&baseJSON, &platJSON, &g.HomeHeight, &g.StrokeMin, &g.StrokeMax)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load geometry: %w", err)
	}
	if err := json.Unmarshal([]byte(baseJSON), &g.Base); err != nil {
		return nil, fmt.Errorf("failed to decode base_points: %w", err)
	}
	if err := json.Unmarshal([]byte(platJSON), &g.Platform); err != nil {
		return nil, fmt.Errorf("failed to decode platform_points: %w", err)
	}
	return &g, nil
}

// SaveGeometry replaces the stored geometry.
func (db *DB) SaveGeometry(g kinematics.Geometry) error {
	baseJSON, err := json.Marshal(g.Base)
	if err != nil {
		return fmt.Errorf("failed to encode base_points: %w", err)
	}
	platJSON, err := json.Marshal(g.Platform)
	if err != nil {
		return fmt.Errorf("failed to encode platform_points: %w", err)
	}
	_, err = db.Exec(`INSERT INTO platform_geometry (id, base_points, platform_points, h0, stroke_min, stroke_max, updated_at)
	                  VALUES (1, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	                  ON CONFLICT(id) DO UPDATE SET
	                      base_points = excluded.base_points,
	                      platform_points = excluded.platform_points,
	                      h0 = excluded.h0,
	                      stroke_min = excluded.stroke_min,
	                      stroke_max = excluded.stroke_max,
	                      updated_at = excluded.updated_at`,
		string(baseJSON), string(platJSON), g.HomeHeight, g.StrokeMin, g.StrokeMax)
	if err != nil {
		return fmt.Errorf("failed to save geometry: %w", err)
	}
	return nil
}

// SerialConfig is the port the service reopens at startup when AutoOpen is
// set.
type SerialConfig struct {
	PortPath  string `json:"port_path"`
	BaudRate  int    `json:"baud_rate"`
	DataBits  int    `json:"data_bits"`
	StopBits  int    `json:"stop_bits"`
	Parity    string `json:"parity"`
	AutoOpen  bool   `json:"auto_open"`
	UpdatedAt int64  `json:"updated_at"`
}

// PortOptions returns the connection parameters in the form serialmux takes.
func (c SerialConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
	}
}

// LoadSerialConfig returns the stored serial configuration, or nil when none
// has been saved.
func (db *DB) LoadSerialConfig() (*SerialConfig, error) {
	var (
		c        SerialConfig
		autoOpen int
	)
	err := db.QueryRow(`SELECT port_path, baud_rate, data_bits, stop_bits, parity, auto_open, updated_at
	                    FROM serial_config WHERE id = 1`).
		Scan(&c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits, &c.Parity, &autoOpen, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load serial config: %w", err)
	}
	c.AutoOpen = autoOpen == 1
	return &c, nil
}

// SaveSerialConfig replaces the stored serial configuration. Unset port
// options are stored as their defaults.
func (db *DB) SaveSerialConfig(c SerialConfig) error {
	opts, err := c.PortOptions().Normalise()
	if err != nil {
		return fmt.Errorf("failed to save serial config: %w", err)
	}
	autoOpen := 0
	if c.AutoOpen {
		autoOpen = 1
	}
	_, err = db.Exec(`INSERT INTO serial_config (id, port_path, baud_rate, data_bits, stop_bits, parity, auto_open, updated_at)
	                  VALUES (1, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	                  ON CONFLICT(id) DO UPDATE SET
	                      port_path = excluded.port_path,
	                      baud_rate = excluded.baud_rate,
	                      data_bits = excluded.data_bits,
	                      stop_bits = excluded.stop_bits,
	                      parity = excluded.parity,
	                      auto_open = excluded.auto_open,
	                      updated_at = excluded.updated_at`,
		c.PortPath, opts.BaudRate, opts.DataBits, opts.StopBits, opts.Parity, autoOpen)
	if err != nil {
		return fmt.Errorf("failed to save serial config: %w", err)
	}
	return nil
}

// SetSerialAutoOpen flips auto_open on the stored row without touching the
// port settings. It is a no-op when no row exists.
func (db *DB) SetSerialAutoOpen(autoOpen bool) error {
	v := 0
	if autoOpen {
		v = 1
	}
	if _, err := db.Exec(`UPDATE serial_config SET auto_open = ?, updated_at = strftime('%s', 'now') WHERE id = 1`, v); err != nil {
		return fmt.Errorf("failed to update serial config: %w", err)
	}
	return nil
}

// PIDGains is the last tuning sent to one actuator. Nil fields have never
// been set.
type PIDGains struct {
	Actuator int      `json:"actuator"`
	Kp       *float64 `json:"kp"`
	Ki       *float64 `json:"ki"`
	Kd       *float64 `json:"kd"`
	U0Adv    *float64 `json:"u0_adv"`
	U0Ret    *float64 `json:"u0_ret"`
}

// PIDGains returns the stored gains, ordered by actuator. Actuators with
// nothing stored are omitted.
func (db *DB) PIDGains() ([]PIDGains, error) {
	rows, err := db.Query(`SELECT actuator, kp, ki, kd, u0_adv, u0_ret FROM pid_gains ORDER BY actuator ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pid gains: %w", err)
	}
	defer rows.Close()

	var out []PIDGains
	for rows.Next() {
		var g PIDGains
		if err := rows.Scan(&g.Actuator, &g.Kp, &g.Ki, &g.Kd, &g.U0Adv, &g.U0Ret); err != nil {
			return nil, fmt.Errorf("failed to scan pid gains: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdatePIDGains merges the non-nil fields of g into the stored row for
// g.Actuator.
func (db *DB) UpdatePIDGains(g PIDGains) error {
	if g.Actuator < 1 || g.Actuator > kinematics.NumActuators {
		return fmt.Errorf("actuator %d out of range 1..%d", g.Actuator, kinematics.NumActuators)
	}
	_, err := db.Exec(`INSERT INTO pid_gains (actuator, kp, ki, kd, u0_adv, u0_ret, updated_at)
	                  VALUES (?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	                  ON CONFLICT(actuator) DO UPDATE SET
	                      kp = COALESCE(excluded.kp, pid_gains.kp),
	                      ki = COALESCE(excluded.ki, pid_gains.ki),
	                      kd = COALESCE(excluded.kd, pid_gains.kd),
	                      u0_adv = COALESCE(excluded.u0_adv, pid_gains.u0_adv),
	                      u0_ret = COALESCE(excluded.u0_ret, pid_gains.u0_ret),
	                      updated_at = excluded.updated_at`,
		g.Actuator, g.Kp, g.Ki, g.Kd, g.U0Adv, g.U0Ret)
	if err != nil {
		return fmt.Errorf("failed to update pid gains for actuator %d: %w", g.Actuator, err)
	}
	return nil
}
