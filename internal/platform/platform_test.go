package platform

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stewart/internal/command"
	"github.com/banshee-data/stewart/internal/db"
	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/link"
	"github.com/banshee-data/stewart/internal/motion"
	"github.com/banshee-data/stewart/internal/serialmux"
	"github.com/banshee-data/stewart/internal/timeutil"
)

type fixture struct {
	p       *Platform
	port    *serialmux.TestableSerialPort
	factory *serialmux.MockSerialPortFactory
	store   *db.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	factory := serialmux.NewMockSerialPortFactory(port)
	factory.Ports = []string{"/dev/ttyACM0"}

	store, err := db.NewDB(filepath.Join(t.TempDir(), "stewart.db"))
	require.NoError(t, err)

	p, err := New(Options{
		Geometry: kinematics.DefaultGeometry(),
		Factory:  factory,
		Store:    store,
		Clock:    timeutil.NewAutoMockClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		Motion:   motion.Config{HomingDuration: 100 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
		store.Close()
	})
	return &fixture{p: p, port: port, factory: factory, store: store}
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	require.NoError(t, f.p.OpenLink("/dev/ttyACM0", serialmux.PortOptions{}))
}

func (f *fixture) written() string { return string(f.port.GetWrittenData()) }

func TestNew_RejectsBadGeometry(t *testing.T) {
	g := kinematics.DefaultGeometry()
	g.StrokeMax = g.StrokeMin
	_, err := New(Options{Geometry: g, Factory: serialmux.NewMockSerialPortFactory(nil)})
	assert.ErrorIs(t, err, kinematics.ErrInvalidGeometry)
}

func TestComputePose_Home(t *testing.T) {
	f := newFixture(t)
	res := f.p.ComputePose(kinematics.PoseRequest{})

	assert.True(t, res.Valid)
	assert.Equal(t, 530.0, res.Pose.Z)
	require.Len(t, res.Actuators, 6)
	for i, a := range res.Actuators {
		assert.Equal(t, i+1, a.ID)
		assert.True(t, a.Valid)
		assert.InDelta(t, (a.Length-500)/180*100, a.Percentage, 1e-9)
	}
	assert.InDelta(t, 586.845, res.Actuators[0].Length, 1e-3)
	assert.Equal(t, kinematics.DefaultGeometry().Base, res.BasePoints)
	assert.InDelta(t, 530, res.PlatformPoints[0][2], 1e-9)
	assert.Empty(t, f.written())
}

func TestComputePose_PerLegValidity(t *testing.T) {
	f := newFixture(t)
	z := 432.0
	res := f.p.ComputePose(kinematics.PoseRequest{Z: &z})
	assert.False(t, res.Valid)
	var bad int
	for _, a := range res.Actuators {
		if !a.Valid {
			bad++
			assert.Equal(t, 0.0, a.Percentage)
		}
	}
	assert.Equal(t, 3, bad)
}

func TestApplyPose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.p.ApplyPose(ctx, kinematics.PoseRequest{})
	assert.ErrorIs(t, err, link.ErrPortNotOpen)
	assert.False(t, res.Applied)
	assert.True(t, res.Valid)

	f.open(t)
	res, err = f.p.ApplyPose(ctx, kinematics.PoseRequest{})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	require.NotNil(t, res.SetpointsMM)
	assert.InDelta(t, 86.845, res.SetpointsMM[0], 1e-3)
	assert.Equal(t, command.Setpoints6(*res.SetpointsMM)+"\n", f.written())
}

func TestApplyPose_Unreachable(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	z := 650.0
	res, err := f.p.ApplyPose(context.Background(), kinematics.PoseRequest{Z: &z})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.False(t, res.Valid)
	assert.Nil(t, res.SetpointsMM)
	assert.Empty(t, f.written())

	_, err = f.p.ApplyPose(context.Background(), kinematics.PoseRequest{X: math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestApplyPose_RefusedWhileRunning(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.StartRoutine(motion.Request{Routine: motion.RoutineSineAxis, Axis: "z", Amp: 5, Hz: 0.5, DurationS: 3600})
	require.NoError(t, err)

	_, err = f.p.ApplyPose(context.Background(), kinematics.PoseRequest{})
	assert.ErrorIs(t, err, motion.ErrAlreadyRunning)

	_, err = f.p.JoystickPose(context.Background(), JoystickInput{Apply: true})
	assert.ErrorIs(t, err, motion.ErrAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := f.p.StopRoutine(ctx)
	assert.Equal(t, motion.StateIdle, st.State)
	assert.False(t, f.p.RoutineStatus().Running)
}

func TestOpenCloseLink_Persists(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.p.OpenLink("  ", serialmux.PortOptions{}), ErrInvalidInput)

	require.NoError(t, f.p.OpenLink("/dev/ttyACM0", serialmux.PortOptions{BaudRate: 57600}))
	assert.Equal(t, link.Status{Connected: true, Port: "/dev/ttyACM0", Baud: 57600}, f.p.LinkStatus())
	assert.ErrorIs(t, f.p.OpenLink("/dev/ttyACM0", serialmux.PortOptions{}), link.ErrAlreadyOpen)

	cfg, err := f.store.LoadSerialConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.PortPath)
	assert.Equal(t, 57600, cfg.BaudRate)
	assert.True(t, cfg.AutoOpen)

	require.NoError(t, f.p.CloseLink())
	assert.False(t, f.p.LinkStatus().Connected)
	cfg, err = f.store.LoadSerialConfig()
	require.NoError(t, err)
	assert.False(t, cfg.AutoOpen)
	assert.Equal(t, "/dev/ttyACM0", cfg.PortPath)
}

func TestOpenLink_Unavailable(t *testing.T) {
	f := newFixture(t)
	f.factory.Error = assert.AnError
	assert.ErrorIs(t, f.p.OpenLink("/dev/ttyACM0", serialmux.PortOptions{}), link.ErrPortUnavailable)

	cfg, err := f.store.LoadSerialConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestListPorts(t *testing.T) {
	f := newFixture(t)
	ports, err := f.p.ListPorts()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyACM0"}, ports)

	f.factory.Ports = nil
	ports, err = f.p.ListPorts()
	require.NoError(t, err)
	assert.NotNil(t, ports)
	assert.Empty(t, ports)

	f.factory.ListError = assert.AnError
	_, err = f.p.ListPorts()
	assert.Error(t, err)
}

func TestSendRaw(t *testing.T) {
	f := newFixture(t)

	_, err := f.p.SendRaw("kpall=1")
	assert.ErrorIs(t, err, link.ErrPortNotOpen)

	f.open(t)
	_, err = f.p.SendRaw("   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.p.SendRaw("a\nb")
	assert.ErrorIs(t, err, ErrInvalidInput)

	sent, err := f.p.SendRaw("  kpall=1.5 ")
	require.NoError(t, err)
	assert.Equal(t, "kpall=1.5", sent)
	assert.Equal(t, "kpall=1.5\n", f.written())
}

func TestSetConfig(t *testing.T) {
	f := newFixture(t)

	bad := kinematics.DefaultGeometry()
	bad.StrokeMin = -1
	_, err := f.p.SetConfig(bad)
	assert.ErrorIs(t, err, kinematics.ErrInvalidGeometry)
	assert.Equal(t, kinematics.DefaultGeometry(), f.p.Config())

	next := kinematics.DefaultGeometry()
	next.HomeHeight = 560
	got, err := f.p.SetConfig(next)
	require.NoError(t, err)
	assert.Equal(t, next, got)
	assert.Equal(t, 560.0, f.p.Config().HomeHeight)
	assert.Equal(t, 560.0, f.p.ComputePose(kinematics.PoseRequest{}).Pose.Z)

	stored, err := f.store.LoadGeometry()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, next, *stored)
}

func TestLatest(t *testing.T) {
	f := newFixture(t)
	_, ok := f.p.Latest()
	assert.False(t, ok)

	f.open(t)
	f.port.AddLines("hello")
	require.Eventually(t, func() bool {
		s, ok := f.p.Latest()
		return ok && s.Raw == "hello"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartRoutine_Validates(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.StartRoutine(motion.Request{Routine: motion.RoutineSineAxis, Axis: "w", Hz: 1, DurationS: 1})
	assert.ErrorIs(t, err, motion.ErrInvalidRequest)

	samples, err := f.p.PreviewRoutine(motion.Request{Routine: motion.RoutineCircleXY, Ax: 10, Ay: 10, Hz: 0.5, DurationS: 2}, 0.5)
	require.NoError(t, err)
	assert.Len(t, samples, 5)
}

func TestShutdown_ClosesLink(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	f.p.Shutdown(context.Background())
	assert.False(t, f.p.LinkStatus().Connected)
	assert.True(t, f.port.IsClosed())
}
