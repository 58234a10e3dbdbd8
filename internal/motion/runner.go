package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/stewart/internal/command"
	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/link"
	"github.com/banshee-data/stewart/internal/monitoring"
	"github.com/banshee-data/stewart/internal/telemetry"
	"github.com/banshee-data/stewart/internal/timeutil"
)

// State is the runner state. It cycles idle, homing, active, stopping and
// back to idle; homing may skip straight to stopping.
type State string

const (
	StateIdle     State = "idle"
	StateHoming   State = "homing"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Link is the part of the telemetry link the runner drives.
// *link.Manager satisfies it.
type Link interface {
	WriteLine(line string) error
	LastPose() (kinematics.Pose, bool)
	LastLengths() (kinematics.Lengths, bool)
}

// Config holds the runner timing.
type Config struct {
	TickRate       float64       // Hz
	HomingDuration time.Duration // home approach and return
	JoinTimeout    time.Duration // how long Stop waits for the control loop
}

// DefaultConfig returns 60 Hz ticks, a 1.5 s home approach and a 2 s join.
func DefaultConfig() Config {
	return Config{TickRate: 60, HomingDuration: 1500 * time.Millisecond, JoinTimeout: 2 * time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickRate <= 0 {
		c.TickRate = d.TickRate
	}
	if c.HomingDuration <= 0 {
		c.HomingDuration = d.HomingDuration
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	return c
}

func (c Config) period() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRate)
}

// Status is a snapshot of the runner.
type Status struct {
	Running   bool      `json:"running"`
	State     State     `json:"state"`
	Routine   string    `json:"routine,omitempty"`
	Params    *Request  `json:"params,omitempty"`
	StartedAt *float64  `json:"started_at"`
	Elapsed   float64   `json:"elapsed"`
	Envelope  *Envelope `json:"envelope,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// TickPayload is published after every active tick.
type TickPayload struct {
	Type          telemetry.Kind      `json:"type"`
	TS            float64             `json:"ts"`
	ElapsedMS     float64             `json:"elapsed_ms"`
	Routine       string              `json:"routine"`
	PoseCmd       kinematics.Pose     `json:"pose_cmd"`
	ActuatorsCmd  kinematics.Lengths  `json:"actuators_cmd"`
	ActuatorsReal *kinematics.Lengths `json:"actuators_real"`
}

// StatePayload is published on every state transition.
type StatePayload struct {
	Type    telemetry.Kind `json:"type"`
	TS      float64        `json:"ts"`
	State   State          `json:"state"`
	Routine string         `json:"routine,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Runner executes at most one routine at a time.
//
// Every setpoint goes through send, which holds driveMu and re-checks the
// caller's context before writing. Once Stop has cancelled the control loop
// and taken driveMu, the loop can no longer transmit.
type Runner struct {
	geometry  *kinematics.Store
	link      Link
	publisher link.Publisher
	clock     timeutil.Clock
	cfg       Config

	mu        sync.Mutex
	state     State
	req       *Request
	startedAt time.Time
	elapsed   time.Duration
	envelope  *Envelope
	lastErr   error
	stopping  bool
	cancel    context.CancelFunc
	done      chan struct{}

	driveMu sync.Mutex
	lastCmd *kinematics.Pose
}

// NewRunner returns an idle runner.
func NewRunner(geometry *kinematics.Store, l Link, publisher link.Publisher, clock timeutil.Clock, cfg Config) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{
		geometry:  geometry,
		link:      l,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		state:     StateIdle,
	}
}

// Start validates req and begins homing. The request is copied.
func (r *Runner) Start(req Request) (Status, error) {
	if err := req.Validate(); err != nil {
		return r.Status(), err
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return r.Status(), fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, r.req.Routine, r.state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.state = StateHoming
	r.req = &req
	r.startedAt = time.Time{}
	r.elapsed = 0
	r.envelope = nil
	r.lastErr = nil
	r.stopping = false
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	monitoring.Logf("motion: starting %s for %.1fs", req.Routine, req.DurationS)
	r.publishState(StateHoming, req.Routine, nil)
	go r.run(ctx, req, done)
	return r.Status(), nil
}

// Stop cancels the running routine and returns the platform home. Stopping an
// idle runner returns its status unchanged.
func (r *Runner) Stop(ctx context.Context) Status {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return r.Status()
	}
	r.leaveActiveLocked()
	r.state = StateStopping
	r.stopping = true
	routine, cancel, done := r.req.Routine, r.cancel, r.done
	r.mu.Unlock()
	r.publishState(StateStopping, routine, nil)

	cancel()
	timer := time.NewTimer(r.cfg.JoinTimeout)
	select {
	case <-done:
	case <-timer.C:
		monitoring.Logf("motion: control loop did not exit within %s, returning home anyway", r.cfg.JoinTimeout)
	}
	timer.Stop()

	g := r.geometry.Load()
	if err := r.moveTo(ctx, g.Home()); err != nil {
		monitoring.Logf("motion: return home: %v", err)
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.state = StateIdle
	r.stopping = false
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()
	r.publishState(StateIdle, routine, nil)
	monitoring.Logf("motion: stopped %s", routine)
	return r.Status()
}

// Status returns a snapshot. Elapsed is live only while active.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{Running: r.state != StateIdle, State: r.state, Elapsed: r.elapsed.Seconds()}
	if r.req != nil {
		req := *r.req
		s.Routine = req.Routine
		s.Params = &req
	}
	if !r.startedAt.IsZero() {
		ts := telemetry.Timestamp(r.startedAt)
		s.StartedAt = &ts
	}
	if r.state == StateActive {
		s.Elapsed = r.clock.Since(r.startedAt).Seconds()
	}
	if r.envelope != nil {
		env := *r.envelope
		s.Envelope = &env
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

// Wait blocks until the current control loop has exited or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, req Request, done chan struct{}) {
	defer close(done)

	g := r.geometry.Load()
	if err := r.moveTo(ctx, g.Home()); err != nil {
		if ctx.Err() == nil {
			r.abort(req.Routine, fmt.Errorf("homing: %w", err))
		}
		return
	}

	env := Calibrate(r.geometry.Load())
	if !env.Calibrated {
		monitoring.Logf("motion: home pose cannot be calibrated, using static envelope %.1f..%.1f", env.ZMin, env.ZMax)
	}

	r.mu.Lock()
	if r.state != StateHoming || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.state = StateActive
	r.envelope = &env
	r.startedAt = r.clock.Now()
	startedAt := r.startedAt
	r.mu.Unlock()
	r.publishState(StateActive, req.Routine, nil)

	period := r.cfg.period()
	duration := time.Duration(req.DurationS * float64(time.Second))
	for {
		tickStart := r.clock.Now()
		elapsed := tickStart.Sub(startedAt)
		if elapsed >= duration {
			r.complete(req.Routine)
			return
		}

		t := elapsed.Seconds()
		g := r.geometry.Load()
		pose := env.Clamp(Generate(req, t, Ramp(t, req.DurationS), g.HomeHeight))

		lengths, err := r.drive(ctx, pose)
		if err != nil {
			if ctx.Err() == nil {
				r.abort(req.Routine, err)
			}
			return
		}
		r.publishTick(req.Routine, elapsed, pose, lengths)

		if remaining := period - r.clock.Since(tickStart); remaining > 0 {
			r.clock.Sleep(remaining)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// moveTo interpolates from the last commanded pose (or the measured pose, or
// home) to target with a half-cosine profile over HomingDuration.
func (r *Runner) moveTo(ctx context.Context, target kinematics.Pose) error {
	from := r.startPose()
	period := r.cfg.period()
	steps := max(1, int(math.Round(r.cfg.HomingDuration.Seconds()*r.cfg.TickRate)))

	for i := 1; i <= steps; i++ {
		w := 0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(steps)))
		if _, err := r.send(ctx, lerp(from, target, w), false); err != nil {
			return err
		}
		if i < steps {
			r.clock.Sleep(period)
		}
	}
	return nil
}

func (r *Runner) startPose() kinematics.Pose {
	r.driveMu.Lock()
	last := r.lastCmd
	r.driveMu.Unlock()
	if last != nil {
		return *last
	}
	if p, ok := r.link.LastPose(); ok {
		return p
	}
	return r.geometry.Load().Home()
}

func lerp(a, b kinematics.Pose, w float64) kinematics.Pose {
	f := func(x, y float64) float64 { return x + (y-x)*w }
	return kinematics.Pose{
		X: f(a.X, b.X), Y: f(a.Y, b.Y), Z: f(a.Z, b.Z),
		Roll: f(a.Roll, b.Roll), Pitch: f(a.Pitch, b.Pitch), Yaw: f(a.Yaw, b.Yaw),
	}
}

// drive validates pose and transmits it as one spmm6x command.
func (r *Runner) drive(ctx context.Context, pose kinematics.Pose) (kinematics.Lengths, error) {
	return r.send(ctx, pose, true)
}

// send transmits pose as one spmm6x command. With validate unset an
// unreachable pose is still sent, its strokes clamped to the actuator
// window; homing and the return to home move this way. A closed link is not
// an error: the setpoint is simply not transmitted.
func (r *Runner) send(ctx context.Context, pose kinematics.Pose, validate bool) (kinematics.Lengths, error) {
	r.driveMu.Lock()
	defer r.driveMu.Unlock()

	if err := ctx.Err(); err != nil {
		return kinematics.Lengths{}, err
	}
	g := r.geometry.Load()
	lengths, valid, _ := g.InverseKinematics(pose)
	if validate && !valid {
		return lengths, fmt.Errorf("%w: x=%.1f y=%.1f z=%.1f roll=%.1f pitch=%.1f yaw=%.1f",
			ErrInvalidPose, pose.X, pose.Y, pose.Z, pose.Roll, pose.Pitch, pose.Yaw)
	}
	err := r.link.WriteLine(command.Setpoints6(g.LengthsToStroke(lengths)))
	if err != nil && !errors.Is(err, link.ErrPortNotOpen) {
		return lengths, err
	}
	r.lastCmd = &pose
	return lengths, nil
}

// leaveActiveLocked freezes the elapsed time when leaving the active state.
func (r *Runner) leaveActiveLocked() {
	if r.state == StateActive {
		r.elapsed = r.clock.Since(r.startedAt)
	}
}

// complete ends a run that reached its duration.
func (r *Runner) complete(routine string) {
	r.finish(routine, nil)
}

// abort ends the run after an invalid pose or a transmit failure. The
// platform is left where it is.
func (r *Runner) abort(routine string, err error) {
	monitoring.Logf("motion: aborting %s: %v", routine, err)
	r.finish(routine, err)
}

func (r *Runner) finish(routine string, err error) {
	r.mu.Lock()
	if err != nil {
		r.lastErr = err
	}
	if r.stopping {
		// Stop owns the remaining transitions.
		r.mu.Unlock()
		return
	}
	r.leaveActiveLocked()
	r.state = StateStopping
	r.mu.Unlock()
	r.publishState(StateStopping, routine, err)

	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return
	}
	r.state = StateIdle
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()
	r.publishState(StateIdle, routine, err)
}

func (r *Runner) publishTick(routine string, elapsed time.Duration, pose kinematics.Pose, lengths kinematics.Lengths) {
	if r.publisher == nil {
		return
	}
	payload := TickPayload{
		Type:         telemetry.KindMotionTick,
		TS:           telemetry.Timestamp(r.clock.Now()),
		ElapsedMS:    float64(elapsed) / float64(time.Millisecond),
		Routine:      routine,
		PoseCmd:      pose,
		ActuatorsCmd: lengths,
	}
	if measured, ok := r.link.LastLengths(); ok {
		payload.ActuatorsReal = &measured
	}
	r.publisher.PublishJSON(telemetry.KindMotionTick, payload)
}

func (r *Runner) publishState(state State, routine string, err error) {
	if r.publisher == nil {
		return
	}
	payload := StatePayload{
		Type:    telemetry.KindMotionState,
		TS:      telemetry.Timestamp(r.clock.Now()),
		State:   state,
		Routine: routine,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	r.publisher.PublishJSON(telemetry.KindMotionState, payload)
}
