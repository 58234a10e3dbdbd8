package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// capture routes Logf into a slice for the duration of the test.
func capture(t *testing.T) *[]string {
	t.Helper()
	prev := Logf
	t.Cleanup(func() {
		Logf = prev
		SetDebug(false)
	})
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("link: opened %s", "/dev/ttyACM0")
	assert.Equal(t, []string{"link: opened /dev/ttyACM0"}, *lines)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted %d", 1) })
	assert.Len(t, *lines, 1, "nil installs a no-op logger")
}

func TestLogf_DefaultIsSet(t *testing.T) {
	assert.NotNil(t, Logf)
}

func TestDebugf(t *testing.T) {
	lines := capture(t)

	SetDebug(false)
	Debugf("link: tx %q", "spmm6x=90")
	assert.Empty(t, *lines)
	assert.False(t, DebugEnabled())

	SetDebug(true)
	assert.True(t, DebugEnabled())
	Debugf("link: tx %q", "spmm6x=90")
	assert.Equal(t, []string{`link: tx "spmm6x=90"`}, *lines)
}
