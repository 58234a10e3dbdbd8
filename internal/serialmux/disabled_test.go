package serialmux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedWithin reports whether ch is closed (not just drained) within d.
func closedWithin(ch chan string, d time.Duration) bool {
	select {
	case _, ok := <-ch:
		return !ok
	case <-time.After(d):
		return false
	}
}

func TestDisabledSerialMux_Unsubscribe(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	_, other := d.Subscribe()

	d.Unsubscribe(id)
	assert.True(t, closedWithin(ch, time.Second))
	assert.False(t, closedWithin(other, 20*time.Millisecond), "other subscribers stay open")

	// Unknown and repeated ids are ignored.
	d.Unsubscribe(id)
	d.Unsubscribe("nope")
}

func TestDisabledSerialMux_Close(t *testing.T) {
	d := NewDisabledSerialMux()
	id, a := d.Subscribe()
	_, b := d.Subscribe()

	require.NoError(t, d.Close())
	assert.True(t, closedWithin(a, time.Second))
	assert.True(t, closedWithin(b, time.Second))
	require.NoError(t, d.Close())
	d.Unsubscribe(id)

	_, late := d.Subscribe()
	assert.True(t, closedWithin(late, time.Second), "subscribing after Close yields a closed channel")
}

func TestDisabledSerialMux_SendCommand(t *testing.T) {
	assert.ErrorIs(t, NewDisabledSerialMux().SendCommand("spmm6x=90,90,90,90,90,90"), ErrDisabled)
}

func TestDisabledSerialMux_MonitorIdles(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.DeadlineExceeded)
}
