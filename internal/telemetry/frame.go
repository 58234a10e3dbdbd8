// Package telemetry parses controller telemetry lines and fans structured
// messages out to subscribers.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind names a published message type. It is the "type" field on the wire.
type Kind string

const (
	KindTelemetry       Kind = "telemetry"
	KindTelemetryMPU    Kind = "telemetry_mpu"
	KindTelemetryBNO085 Kind = "telemetry_bno085"
	KindRaw             Kind = "raw"
	KindMotionTick      Kind = "motion_tick"
	KindMotionState     Kind = "motion_state"
)

const (
	legacyPrefix = "ms;"
	fieldSep     = ";"

	baseFields        = 14
	orientationFields = 17
	quaternionFields  = 21
)

// Orientation is the IMU attitude in degrees.
type Orientation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Quaternion is the IMU attitude quaternion.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Frame is one parsed telemetry line. Shorter frames are prefixes of the
// longest one, so Orientation and Quaternion are nil when absent.
type Frame struct {
	Received    time.Time
	DeviceClock float64
	Setpoint    float64
	Y           [6]float64
	PWM         [6]int
	Orientation *Orientation
	Quaternion  *Quaternion
	Format      Kind
	Raw         string
}

// Line is the result of parsing one line: either a Frame or raw text.
type Line struct {
	Frame      *Frame
	Raw        string
	ParseError bool
	Received   time.Time
}

// Kind returns the message kind the line publishes as.
func (l Line) Kind() Kind {
	if l.Frame != nil {
		return l.Frame.Format
	}
	return KindRaw
}

// ParseLine parses one received line. It returns false for an empty line,
// which publishes nothing. It never fails: a line with fewer than 14
// fields, or with a field that does not parse as a number, comes back as
// raw text (the latter flagged with ParseError).
func ParseLine(text string, received time.Time) (Line, bool) {
	if text == "" {
		return Line{}, false
	}
	text = strings.TrimPrefix(text, legacyPrefix)

	parts := strings.Split(text, fieldSep)
	if len(parts) < baseFields {
		return Line{Raw: text, Received: received}, true
	}
	f, err := parseFields(parts)
	if err != nil {
		return Line{Raw: text, ParseError: true, Received: received}, true
	}
	f.Received = received
	f.Raw = text
	return Line{Frame: f, Raw: text, Received: received}, true
}

func parseFields(parts []string) (*Frame, error) {
	p := numberParser{parts: parts}
	f := &Frame{Format: KindTelemetry}

	f.DeviceClock = p.float(0)
	f.Setpoint = p.float(1)
	for i := range 6 {
		f.Y[i] = p.float(2 + i)
		f.PWM[i] = int(p.float(8 + i))
	}
	if len(parts) >= orientationFields {
		f.Orientation = &Orientation{Roll: p.float(14), Pitch: p.float(15), Yaw: p.float(16)}
		f.Format = KindTelemetryMPU
	}
	if len(parts) >= quaternionFields {
		f.Quaternion = &Quaternion{W: p.float(17), X: p.float(18), Y: p.float(19), Z: p.float(20)}
		f.Format = KindTelemetryBNO085
	}
	if p.err != nil {
		return nil, p.err
	}
	return f, nil
}

// numberParser records the first failure so field extraction reads as a
// flat list.
type numberParser struct {
	parts []string
	err   error
}

func (p *numberParser) float(i int) float64 {
	if p.err != nil {
		return 0
	}
	s := strings.ReplaceAll(strings.TrimSpace(p.parts[i]), ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
		return 0
	}
	return v
}
