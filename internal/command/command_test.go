package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stewart/internal/timeutil"
)

func ptr[T any](v T) *T { return &v }

func TestSingleLineBuilders(t *testing.T) {
	sel, err := Select(3)
	require.NoError(t, err)
	assert.Equal(t, "sel=3", sel)

	assert.Equal(t, "spmm=90.000", Setpoint(90))
	assert.Equal(t, "spmm=12.346", Setpoint(12.3456))

	sp, err := ActuatorSetpoint(6, 1.5)
	require.NoError(t, err)
	assert.Equal(t, "spmm6=1.500", sp)

	assert.Equal(t, "spmm6x=0.000,1.500,90.123,180.000,45.000,60.000",
		Setpoints6([6]float64{0, 1.5, 90.1234, 180, 45, 60.0004}))

	assert.Equal(t, "offset=-2.500", Offset(-2.5))
	assert.Equal(t, "offsetall=1.000", OffsetAll(1))
}

func TestActuatorRange(t *testing.T) {
	for _, n := range []int{0, 7, -1} {
		_, err := Select(n)
		assert.ErrorIs(t, err, ErrBadActuator)
		_, err = ActuatorSetpoint(n, 1)
		assert.ErrorIs(t, err, ErrBadActuator)
		_, err = Gains(n, ptr(1.0), nil, nil)
		assert.ErrorIs(t, err, ErrBadActuator)
		_, err = Feedforward(n, ptr(1.0), nil)
		assert.ErrorIs(t, err, ErrBadActuator)
	}
}

func TestGains(t *testing.T) {
	lines, err := Gains(2, ptr(1.5), nil, ptr(0.01234))
	require.NoError(t, err)
	assert.Equal(t, []string{"sel=2", "kpmm=1.5000", "kdmm=0.0123"}, lines)

	assert.Equal(t, []string{"kpall=2.0000", "kiall=0.5000", "kdall=0.0000"},
		GainsAll(ptr(2.0), ptr(0.5), ptr(0.0)))
	assert.Empty(t, GainsAll(nil, nil, nil))
}

func TestFeedforward(t *testing.T) {
	lines, err := Feedforward(5, ptr(35.126), ptr(30.0))
	require.NoError(t, err)
	assert.Equal(t, []string{"sel=5", "u0a=35.13", "u0r=30.00"}, lines)

	assert.Equal(t, []string{"u0rall=12.00"}, FeedforwardAll(nil, ptr(12.0)))
}

func TestSettings(t *testing.T) {
	s := Settings{DeadbandMM: ptr(0.2), CutoffHz: ptr(5.0), MinPWM: ptr(40)}
	assert.Equal(t, []string{"dbmm=0.200", "fc=5.00", "minpwm=40"}, s.Lines())
	assert.Empty(t, Settings{}.Lines())
}

func TestManual(t *testing.T) {
	for in, want := range map[string]string{"A": "A", "r": "R", "ok": "OK", " Ok ": "OK"} {
		got, err := Manual(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := Manual("X")
	assert.ErrorIs(t, err, ErrBadAction)
}

type recordingWriter struct {
	lines []string
	err   error
	after int
}

func (w *recordingWriter) WriteLine(line string) error {
	if w.err != nil && len(w.lines) >= w.after {
		return w.err
	}
	w.lines = append(w.lines, line)
	return nil
}

func TestSend(t *testing.T) {
	clock := timeutil.NewMockClock(time.Time{})
	w := &recordingWriter{}

	require.NoError(t, Send(context.Background(), w, clock, "sel=1", "kpmm=1.0000", "kimm=0.1000"))
	assert.Equal(t, []string{"sel=1", "kpmm=1.0000", "kimm=0.1000"}, w.lines)
	assert.Equal(t, []time.Duration{LineGap, LineGap}, clock.Sleeps())
}

func TestSend_StopsOnError(t *testing.T) {
	clock := timeutil.NewMockClock(time.Time{})
	boom := errors.New("port closed")
	w := &recordingWriter{err: boom, after: 1}

	err := Send(context.Background(), w, clock, "sel=1", "kpmm=1.0000", "kimm=0.1000")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"sel=1"}, w.lines)
}

func TestSend_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &recordingWriter{}
	err := Send(ctx, w, timeutil.NewMockClock(time.Time{}), "A")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.lines)
}
