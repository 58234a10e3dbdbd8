package link

import (
	"time"

	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/monitoring"
	"github.com/banshee-data/stewart/internal/telemetry"
)

// TelemetryPayload is the published form of a parsed frame.
type TelemetryPayload struct {
	Type               telemetry.Kind                             `json:"type"`
	TS                 float64                                    `json:"ts"`
	SetpointMM         float64                                    `json:"sp_mm"`
	Y                  [6]float64                                 `json:"Y"`
	PWM                [6]int                                     `json:"PWM"`
	LengthsAbs         kinematics.Lengths                         `json:"actuator_lengths_abs"`
	MPU                *telemetry.Orientation                     `json:"mpu"`
	Quaternions        *telemetry.Quaternion                      `json:"quaternions"`
	PoseLive           *kinematics.Pose                           `json:"pose_live"`
	PlatformPointsLive *[kinematics.NumActuators]kinematics.Point `json:"platform_points_live"`
	BasePoints         [kinematics.NumActuators]kinematics.Point  `json:"base_points"`
}

// Sample is the most recent line received, as returned by GET /telemetry.
// Frame fields are zero for a raw line.
type Sample struct {
	TS          float64                `json:"ts"`
	Raw         string                 `json:"raw"`
	Format      telemetry.Kind         `json:"format"`
	SetpointMM  *float64               `json:"sp_mm,omitempty"`
	Y           *[6]float64            `json:"Y,omitempty"`
	PWM         *[6]int                `json:"PWM,omitempty"`
	MPU         *telemetry.Orientation `json:"mpu,omitempty"`
	Quaternions *telemetry.Quaternion  `json:"quaternions,omitempty"`
	PoseLive    *kinematics.Pose       `json:"pose_live,omitempty"`
	ParseError  bool                   `json:"parse_error,omitempty"`
}

// handleLine runs on the reader goroutine for every received line.
func (m *Manager) handleLine(text string) {
	m.fanoutRaw(text)

	line, ok := telemetry.ParseLine(text, m.clock.Now())
	if !ok {
		return
	}
	if line.Frame == nil {
		monitoring.Debugf("link: raw %q", text)
		m.storeSample(&Sample{TS: telemetry.Timestamp(line.Received), Raw: line.Raw, Format: telemetry.KindRaw, ParseError: line.ParseError})
		m.publish(telemetry.KindRaw, telemetry.NewRawPayload(line))
		return
	}

	f := line.Frame
	g := m.geometry.Load()
	lengths := g.StrokeToLengths(f.Y)

	payload := TelemetryPayload{
		Type:        f.Format,
		TS:          telemetry.Timestamp(f.Received),
		SetpointMM:  f.Setpoint,
		Y:           f.Y,
		PWM:         f.PWM,
		LengthsAbs:  lengths,
		MPU:         f.Orientation,
		Quaternions: f.Quaternion,
		BasePoints:  g.Base,
	}

	start := time.Now()
	pose, err := g.EstimatePoseFromLengths(lengths, m.warmStart())
	if err != nil {
		monitoring.Debugf("link: pose reconstruction: %v", err)
	} else {
		_, _, points := g.InverseKinematics(pose)
		payload.PoseLive = &pose
		payload.PlatformPointsLive = &points
	}
	monitoring.Debugf("link: frame %s sp=%.2f solved in %s", f.Format, f.Setpoint, time.Since(start))

	sp, y, pwm := f.Setpoint, f.Y, f.PWM
	m.recordFrame(&Sample{
		TS:          payload.TS,
		Raw:         f.Raw,
		Format:      f.Format,
		SetpointMM:  &sp,
		Y:           &y,
		PWM:         &pwm,
		MPU:         f.Orientation,
		Quaternions: f.Quaternion,
		PoseLive:    payload.PoseLive,
	}, lengths, payload.PoseLive)
	m.publish(f.Format, payload)
}

func (m *Manager) publish(kind telemetry.Kind, v any) {
	if m.publisher != nil {
		m.publisher.PublishJSON(kind, v)
	}
}

func (m *Manager) warmStart() *kinematics.Pose {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	if m.lastPose == nil {
		return nil
	}
	p := *m.lastPose
	return &p
}

func (m *Manager) storeSample(s *Sample) {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	m.latest = s
}

func (m *Manager) recordFrame(s *Sample, lengths kinematics.Lengths, pose *kinematics.Pose) {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	m.latest = s
	m.lastLengths = &lengths
	if pose != nil {
		p := *pose
		m.lastPose = &p
	}
}

// Latest returns the most recent sample, if any line has been received.
func (m *Manager) Latest() (Sample, bool) {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	if m.latest == nil {
		return Sample{}, false
	}
	return *m.latest, true
}

// LastPose returns the last successfully reconstructed pose.
func (m *Manager) LastPose() (kinematics.Pose, bool) {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	if m.lastPose == nil {
		return kinematics.Pose{}, false
	}
	return *m.lastPose, true
}

// LastLengths returns the absolute lengths of the last parsed frame.
func (m *Manager) LastLengths() (kinematics.Lengths, bool) {
	m.sampleMu.Lock()
	defer m.sampleMu.Unlock()
	if m.lastLengths == nil {
		return kinematics.Lengths{}, false
	}
	return *m.lastLengths, true
}
