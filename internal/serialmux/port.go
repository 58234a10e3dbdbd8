package serialmux

import (
	"io"
	"time"
)

// SerialPorter is what the mux needs from a controller connection: a real
// port, the simulated controller or a test double.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports whose reads can be bounded, so
// Monitor notices cancellation within one timeout.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortFactory opens and enumerates ports. The link manager takes one
// so tests and -dev can swap the hardware out.
type SerialPortFactory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
	List() ([]string, error)
}
