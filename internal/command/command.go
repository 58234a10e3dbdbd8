// Package command builds the line commands understood by the actuator
// controller firmware.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/stewart/internal/timeutil"
)

var (
	// ErrBadActuator is returned for an actuator index outside 1..6.
	ErrBadActuator = errors.New("actuator must be between 1 and 6")
	// ErrBadAction is returned for a manual action other than A, R or ok.
	ErrBadAction = errors.New("manual action must be A, R or ok")
)

// LineGap is the pause the firmware needs between consecutive lines of a
// multi-line sequence.
const LineGap = 10 * time.Millisecond

func checkActuator(n int) error {
	if n < 1 || n > 6 {
		return fmt.Errorf("%w: got %d", ErrBadActuator, n)
	}
	return nil
}

// Select makes n the actuator that per-actuator gain commands apply to.
func Select(n int) (string, error) {
	if err := checkActuator(n); err != nil {
		return "", err
	}
	return fmt.Sprintf("sel=%d", n), nil
}

// Setpoint sets every actuator to the same stroke.
func Setpoint(mm float64) string { return fmt.Sprintf("spmm=%.3f", mm) }

// ActuatorSetpoint sets the stroke of actuator n.
func ActuatorSetpoint(n int, mm float64) (string, error) {
	if err := checkActuator(n); err != nil {
		return "", err
	}
	return fmt.Sprintf("spmm%d=%.3f", n, mm), nil
}

// Setpoints6 sets all six strokes in one line.
func Setpoints6(v [6]float64) string {
	parts := make([]string, len(v))
	for i, mm := range v {
		parts[i] = fmt.Sprintf("%.3f", mm)
	}
	return "spmm6x=" + strings.Join(parts, ",")
}

// Gains selects actuator n and sets whichever of kp, ki and kd are given.
func Gains(n int, kp, ki, kd *float64) ([]string, error) {
	sel, err := Select(n)
	if err != nil {
		return nil, err
	}
	return append([]string{sel}, gainLines("mm", kp, ki, kd)...), nil
}

// GainsAll sets the given gains on every actuator.
func GainsAll(kp, ki, kd *float64) []string {
	return gainLines("all", kp, ki, kd)
}

func gainLines(suffix string, kp, ki, kd *float64) []string {
	var out []string
	for _, g := range []struct {
		name string
		v    *float64
	}{{"kp", kp}, {"ki", ki}, {"kd", kd}} {
		if g.v != nil {
			out = append(out, fmt.Sprintf("%s%s=%.4f", g.name, suffix, *g.v))
		}
	}
	return out
}

// Feedforward selects actuator n and sets its advance and retract
// feed-forward duties.
func Feedforward(n int, advance, retract *float64) ([]string, error) {
	sel, err := Select(n)
	if err != nil {
		return nil, err
	}
	return append([]string{sel}, feedforwardLines("", advance, retract)...), nil
}

// FeedforwardAll sets the feed-forward duties on every actuator.
func FeedforwardAll(advance, retract *float64) []string {
	return feedforwardLines("all", advance, retract)
}

func feedforwardLines(suffix string, advance, retract *float64) []string {
	var out []string
	if advance != nil {
		out = append(out, fmt.Sprintf("u0a%s=%.2f", suffix, *advance))
	}
	if retract != nil {
		out = append(out, fmt.Sprintf("u0r%s=%.2f", suffix, *retract))
	}
	return out
}

// Settings are controller-wide tuning values. Nil fields are left unchanged.
type Settings struct {
	DeadbandMM *float64 `json:"dbmm,omitempty"`
	CutoffHz   *float64 `json:"fc,omitempty"`
	MinPWM     *int     `json:"minpwm,omitempty"`
}

// Lines returns the commands for the fields that are set.
func (s Settings) Lines() []string {
	var out []string
	if s.DeadbandMM != nil {
		out = append(out, fmt.Sprintf("dbmm=%.3f", *s.DeadbandMM))
	}
	if s.CutoffHz != nil {
		out = append(out, fmt.Sprintf("fc=%.2f", *s.CutoffHz))
	}
	if s.MinPWM != nil {
		out = append(out, fmt.Sprintf("minpwm=%d", *s.MinPWM))
	}
	return out
}

// Offset sets the stroke offset of the selected actuator.
func Offset(mm float64) string { return fmt.Sprintf("offset=%.3f", mm) }

// OffsetAll sets the stroke offset of every actuator.
func OffsetAll(mm float64) string { return fmt.Sprintf("offsetall=%.3f", mm) }

// Manual returns the jog command for action: A advances, R retracts and ok
// stops. Matching is case-insensitive; the firmware receives upper case.
func Manual(action string) (string, error) {
	a := strings.ToUpper(strings.TrimSpace(action))
	switch a {
	case "A", "R", "OK":
		return a, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrBadAction, action)
}

// LineWriter transmits one command line.
type LineWriter interface {
	WriteLine(line string) error
}

// Send writes lines in order with LineGap between them. It stops at the
// first write error or when ctx is done.
func Send(ctx context.Context, w LineWriter, clock timeutil.Clock, lines ...string) error {
	for i, line := range lines {
		if i > 0 {
			clock.Sleep(LineGap)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteLine(line); err != nil {
			return fmt.Errorf("send %q: %w", line, err)
		}
	}
	return nil
}
