// Package platform bundles the kinematics, serial link, telemetry fan-out and
// motion runner into the operations the HTTP layer exposes.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/stewart/internal/command"
	"github.com/banshee-data/stewart/internal/db"
	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/link"
	"github.com/banshee-data/stewart/internal/monitoring"
	"github.com/banshee-data/stewart/internal/motion"
	"github.com/banshee-data/stewart/internal/serialmux"
	"github.com/banshee-data/stewart/internal/telemetry"
	"github.com/banshee-data/stewart/internal/timeutil"
)

// ErrInvalidInput marks a request that is malformed before any device is
// touched.
var ErrInvalidInput = errors.New("invalid input")

// SettingsStore persists what the operator configures. *db.DB satisfies it.
type SettingsStore interface {
	SaveGeometry(g kinematics.Geometry) error
	SaveSerialConfig(c db.SerialConfig) error
	SetSerialAutoOpen(autoOpen bool) error
	UpdatePIDGains(g db.PIDGains) error
	PIDGains() ([]db.PIDGains, error)
}

// Options configure New. Store may be nil, in which case nothing persists.
type Options struct {
	Geometry  kinematics.Geometry
	Factory   serialmux.SerialPortFactory
	Store     SettingsStore
	Clock     timeutil.Clock
	Motion    motion.Config
	QueueSize int
}

// Platform is the application context shared by the API and workers.
type Platform struct {
	Geometry    *kinematics.Store
	Link        *link.Manager
	Broadcaster *telemetry.Broadcaster
	Runner      *motion.Runner

	store SettingsStore
	clock timeutil.Clock
}

// New builds a Platform with a closed link and an idle runner. The geometry
// must validate.
func New(opts Options) (*Platform, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	geom := kinematics.NewStore(opts.Geometry)
	b := telemetry.NewBroadcaster(opts.QueueSize)
	l := link.NewManager(opts.Factory, geom, b, clock)
	return &Platform{
		Geometry:    geom,
		Link:        l,
		Broadcaster: b,
		Runner:      motion.NewRunner(geom, l, b, clock, opts.Motion),
		store:       opts.Store,
		clock:       clock,
	}, nil
}

// Run delivers published telemetry until ctx is done.
func (p *Platform) Run(ctx context.Context) {
	p.Broadcaster.Run(ctx)
}

// Shutdown stops any routine, returning the platform home, then closes the
// link.
func (p *Platform) Shutdown(ctx context.Context) {
	if st := p.Runner.Status(); st.State != motion.StateIdle {
		monitoring.Logf("platform: stopping %s for shutdown", st.Routine)
		p.Runner.Stop(ctx)
	}
	if err := p.Link.Close(); err != nil {
		monitoring.Logf("platform: close link: %v", err)
	}
}

// ActuatorReading describes one leg of a computed pose.
type ActuatorReading struct {
	ID         int     `json:"id"`
	Length     float64 `json:"length"`
	Percentage float64 `json:"percentage"`
	Valid      bool    `json:"valid"`
}

// PoseResult is the answer to ComputePose.
type PoseResult struct {
	Pose           kinematics.Pose                           `json:"pose"`
	Actuators      []ActuatorReading                         `json:"actuators"`
	Valid          bool                                      `json:"valid"`
	BasePoints     [kinematics.NumActuators]kinematics.Point `json:"base_points"`
	PlatformPoints [kinematics.NumActuators]kinematics.Point `json:"platform_points"`
}

// ComputePose runs inverse kinematics without touching the device.
func (p *Platform) ComputePose(req kinematics.PoseRequest) PoseResult {
	g := p.Geometry.Load()
	return compute(g, req.Resolve(g))
}

func compute(g *kinematics.Geometry, pose kinematics.Pose) PoseResult {
	lengths, valid, world := g.InverseKinematics(pose)
	pct := g.StrokePercentage(lengths)
	res := PoseResult{
		Pose:           pose,
		Actuators:      make([]ActuatorReading, kinematics.NumActuators),
		Valid:          valid,
		BasePoints:     g.Base,
		PlatformPoints: world,
	}
	for i, l := range lengths {
		res.Actuators[i] = ActuatorReading{ID: i + 1, Length: l, Percentage: pct[i], Valid: g.InWindow(l)}
	}
	return res
}

// ApplyResult is the answer to ApplyPose.
type ApplyResult struct {
	Applied     bool                              `json:"applied"`
	Valid       bool                              `json:"valid"`
	SetpointsMM *[kinematics.NumActuators]float64 `json:"setpoints_mm,omitempty"`
	Message     string                            `json:"message,omitempty"`
}

// ApplyPose validates a pose and transmits its strokes as one spmm6x line.
// An unreachable pose is reported in the result, not as an error. Direct
// poses are refused while a routine owns the actuators.
func (p *Platform) ApplyPose(ctx context.Context, req kinematics.PoseRequest) (ApplyResult, error) {
	if st := p.Runner.Status(); st.State != motion.StateIdle {
		return ApplyResult{}, fmt.Errorf("%w: %s is %s", motion.ErrAlreadyRunning, st.Routine, st.State)
	}
	g := p.Geometry.Load()
	return p.apply(ctx, g, req.Resolve(g))
}

func (p *Platform) apply(ctx context.Context, g *kinematics.Geometry, pose kinematics.Pose) (ApplyResult, error) {
	if !pose.IsFinite() {
		return ApplyResult{}, fmt.Errorf("%w: pose is not finite", ErrInvalidInput)
	}
	lengths, valid, _ := g.InverseKinematics(pose)
	if !valid {
		return ApplyResult{Message: motion.ErrInvalidPose.Error()}, nil
	}
	strokes := g.LengthsToStroke(lengths)
	if err := command.Send(ctx, p.Link, p.clock, command.Setpoints6(strokes)); err != nil {
		return ApplyResult{Valid: true, Message: err.Error()}, err
	}
	return ApplyResult{Applied: true, Valid: true, SetpointsMM: &strokes, Message: "applied"}, nil
}

// OpenLink opens the serial link and remembers the port for the next start.
func (p *Platform) OpenLink(path string, opts serialmux.PortOptions) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidInput)
	}
	if err := p.Link.Open(path, opts); err != nil {
		return err
	}
	if p.store != nil {
		o := p.Link.Options()
		err := p.store.SaveSerialConfig(db.SerialConfig{
			PortPath: path,
			BaudRate: o.BaudRate,
			DataBits: o.DataBits,
			StopBits: o.StopBits,
			Parity:   o.Parity,
			AutoOpen: true,
		})
		if err != nil {
			monitoring.Logf("platform: persist serial config: %v", err)
		}
	}
	return nil
}

// CloseLink closes the serial link. The port stays remembered but is no
// longer reopened at startup.
func (p *Platform) CloseLink() error {
	if err := p.Link.Close(); err != nil {
		return err
	}
	if p.store != nil {
		if err := p.store.SetSerialAutoOpen(false); err != nil {
			monitoring.Logf("platform: persist serial config: %v", err)
		}
	}
	return nil
}

func (p *Platform) LinkStatus() link.Status { return p.Link.Status() }

// ListPorts returns the candidate ports, never nil.
func (p *Platform) ListPorts() ([]string, error) {
	ports, err := p.Link.ListPorts()
	if err != nil {
		return nil, err
	}
	if ports == nil {
		ports = []string{}
	}
	return ports, nil
}

// SendRaw transmits one operator-typed line unchanged apart from trimming.
func (p *Platform) SendRaw(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return "", fmt.Errorf("%w: command is required", ErrInvalidInput)
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return "", fmt.Errorf("%w: command must be a single line", ErrInvalidInput)
	}
	return cmd, p.Link.WriteLine(cmd)
}

// Latest returns the most recent line received from the controller.
func (p *Platform) Latest() (link.Sample, bool) { return p.Link.Latest() }

func (p *Platform) StartRoutine(req motion.Request) (motion.Status, error) {
	return p.Runner.Start(req)
}

func (p *Platform) StopRoutine(ctx context.Context) motion.Status {
	return p.Runner.Stop(ctx)
}

func (p *Platform) RoutineStatus() motion.Status { return p.Runner.Status() }

// PreviewRoutine samples a routine's clamped trajectory every step seconds.
func (p *Platform) PreviewRoutine(req motion.Request, step float64) ([]motion.Sample, error) {
	return p.Runner.Preview(req, step)
}

// Config returns the active geometry.
func (p *Platform) Config() kinematics.Geometry { return *p.Geometry.Load() }

// SetConfig validates and installs a new geometry, then persists it.
func (p *Platform) SetConfig(g kinematics.Geometry) (kinematics.Geometry, error) {
	if err := p.Geometry.Replace(g); err != nil {
		return kinematics.Geometry{}, err
	}
	if p.store != nil {
		if err := p.store.SaveGeometry(g); err != nil {
			monitoring.Logf("platform: persist geometry: %v", err)
		}
	}
	monitoring.Logf("platform: geometry updated (h0=%g, stroke %g..%g)", g.HomeHeight, g.StrokeMin, g.StrokeMax)
	return g, nil
}
