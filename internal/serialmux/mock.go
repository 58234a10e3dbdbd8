package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

var errMockClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory controller connection for tests. Reads
// drain whatever AddReadData or AddLines queued; writes accumulate and can be
// inspected as raw bytes or as command lines.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond
	in   bytes.Buffer
	out  bytes.Buffer

	// One-shot failures, cleared once returned.
	ReadError  error
	WriteError error

	CloseError   error
	WriteLatency time.Duration
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool
	// BlockReads makes Read wait for data or Close instead of returning 0.
	BlockReads bool

	Closed      bool
	ReadTimeout time.Duration
}

func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errMockClosed
	}
	if err := t.ReadError; err != nil {
		t.ReadError = nil
		return 0, err
	}
	for t.BlockReads && !t.Closed && t.in.Len() == 0 {
		t.cond.Wait()
	}
	if t.Closed {
		return 0, errMockClosed
	}
	return t.in.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errMockClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		return 0, err
	}
	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}
	n, err := t.out.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close wakes any blocked reader.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.cond.Broadcast()
	return t.CloseError
}

func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData queues bytes for the reader exactly as given.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.in.Write(data)
	t.cond.Signal()
}

// AddLines queues controller output, terminating each line with CRLF as the
// firmware does.
func (t *TestableSerialPort) AddLines(lines ...string) {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	t.AddReadData([]byte(b.String()))
}

// GetWrittenData returns a copy of everything written so far.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.out.Bytes())
}

// WrittenLines returns the transmitted commands without their newlines.
func (t *TestableSerialPort) WrittenLines() []string {
	s := strings.TrimSuffix(string(t.GetWrittenData()), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Reset clears the buffers and any injected failure, reopening the port.
func (t *TestableSerialPort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.in.Reset()
	t.out.Reset()
	t.Closed = false
	t.ReadError, t.WriteError, t.CloseError = nil, nil, nil
	t.WriteLatency = 0
	t.ShortWrite = false
}

func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockSerialPortFactory hands out a fixed port and records every Open.
type MockSerialPortFactory struct {
	mu sync.Mutex

	Port  SerialPorter
	Error error // returned by Open when set

	OpenCalls []MockOpenCall

	Ports     []string // returned by List
	ListError error
}

type MockOpenCall struct {
	Path    string
	Options PortOptions
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

func (f *MockSerialPortFactory) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListError != nil {
		return nil, f.ListError
	}
	return append([]string{}, f.Ports...), nil
}

// SetPort replaces the port handed out by later Open calls, e.g. to simulate
// replugging the controller.
func (f *MockSerialPortFactory) SetPort(p SerialPorter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Port = p
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// Reset forgets recorded calls and the injected Open error.
func (f *MockSerialPortFactory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = nil
	f.Error = nil
}
