// Package link owns the serial connection to the actuator controller: it
// opens and closes the port, turns received lines into telemetry messages and
// serialises outgoing commands.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/monitoring"
	"github.com/banshee-data/stewart/internal/serialmux"
	"github.com/banshee-data/stewart/internal/telemetry"
	"github.com/banshee-data/stewart/internal/timeutil"
)

var (
	ErrPortUnavailable = errors.New("serial port unavailable")
	ErrAlreadyOpen     = errors.New("serial link already open")
	ErrPortNotOpen     = errors.New("serial link not open")
	ErrLinkIO          = errors.New("serial link I/O error")
)

// readerJoinTimeout bounds how long Close waits for the reader to exit.
const readerJoinTimeout = time.Second

// Publisher accepts messages for fan-out. *telemetry.Broadcaster satisfies it.
type Publisher interface {
	PublishJSON(kind telemetry.Kind, v any) bool
}

// Status describes the link for API responses.
type Status struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port,omitempty"`
	Baud      int    `json:"baud,omitempty"`
}

// Manager is the telemetry link. While closed its mux is a
// serialmux.DisabledSerialMux, so writes fail with ErrPortNotOpen without a
// separate state check.
//
// Lines from the reader are parsed, reconstructed into a pose, stored as the
// latest sample and published. Raw lines are also fanned out to tail
// subscribers; those subscriptions survive reopening the port.
type Manager struct {
	mu         sync.RWMutex
	current    serialmux.SerialMuxInterface
	open       bool
	path       string
	opts       serialmux.PortOptions
	cancel     context.CancelFunc
	done       chan struct{}
	generation uint64

	factory   serialmux.SerialPortFactory
	geometry  *kinematics.Store
	publisher Publisher
	clock     timeutil.Clock

	sampleMu    sync.Mutex
	latest      *Sample
	lastPose    *kinematics.Pose
	lastLengths *kinematics.Lengths

	tailMu sync.Mutex
	tail   map[string]chan string
}

// NewManager returns a closed link.
func NewManager(factory serialmux.SerialPortFactory, geometry *kinematics.Store, publisher Publisher, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		current:   serialmux.NewDisabledSerialMux(),
		factory:   factory,
		geometry:  geometry,
		publisher: publisher,
		clock:     clock,
		tail:      make(map[string]chan string),
	}
}

// Open opens path and starts the reader.
func (m *Manager) Open(path string, opts serialmux.PortOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, m.path)
	}
	norm, err := opts.Normalise()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPortUnavailable, err)
	}
	port, err := m.factory.Open(path, norm)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPortUnavailable, path, err)
	}

	mux := serialmux.NewSerialMux(port, m.handleLine)
	m.current.Close()
	m.current = mux
	m.open = true
	m.path = path
	m.opts = norm
	m.generation++

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	gen := m.generation

	go func() {
		defer close(done)
		err := mux.Monitor(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("link: reader stopped: %v", fmt.Errorf("%w: %v", ErrLinkIO, err))
			m.teardown(gen)
		}
	}()

	monitoring.Logf("link: opened %s (%s)", path, norm)
	return nil
}

// Close stops the reader and closes the port. Closing a closed link is a
// no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return nil
	}
	mux, cancel, done, path := m.current, m.cancel, m.done, m.path
	m.resetLocked()
	m.mu.Unlock()

	cancel()
	err := mux.Close()
	select {
	case <-done:
	case <-time.After(readerJoinTimeout):
		monitoring.Logf("link: reader for %s did not exit within %s", path, readerJoinTimeout)
	}
	if err != nil {
		monitoring.Logf("link: close %s: %v", path, err)
	}
	monitoring.Logf("link: closed %s", path)
	return nil
}

// teardown closes the link after an I/O failure, unless it has already been
// closed or reopened since generation gen.
func (m *Manager) teardown(gen uint64) {
	m.mu.Lock()
	if !m.open || m.generation != gen {
		m.mu.Unlock()
		return
	}
	mux, cancel := m.current, m.cancel
	m.resetLocked()
	m.mu.Unlock()

	cancel()
	if err := mux.Close(); err != nil {
		monitoring.Logf("link: close after failure: %v", err)
	}
}

func (m *Manager) resetLocked() {
	m.current = serialmux.NewDisabledSerialMux()
	m.open = false
	m.path = ""
	m.cancel = nil
	m.done = nil
	m.generation++
}

// WriteLine transmits one command. A failed or short write closes the link.
func (m *Manager) WriteLine(line string) error {
	m.mu.RLock()
	mux, gen := m.current, m.generation
	m.mu.RUnlock()

	if err := mux.SendCommand(line); err != nil {
		if errors.Is(err, serialmux.ErrDisabled) {
			return ErrPortNotOpen
		}
		m.teardown(gen)
		return fmt.Errorf("%w: %v", ErrLinkIO, err)
	}
	monitoring.Debugf("link: tx %q", line)
	return nil
}

// SendCommand is WriteLine under the name the debug console expects.
func (m *Manager) SendCommand(line string) error { return m.WriteLine(line) }

// Status reports whether the link is open and on which port.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.open {
		return Status{}
	}
	return Status{Connected: true, Port: m.path, Baud: m.opts.BaudRate}
}

// Options returns the options the link was last opened with.
func (m *Manager) Options() serialmux.PortOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts
}

// ListPorts enumerates candidate ports.
func (m *Manager) ListPorts() ([]string, error) {
	return m.factory.List()
}

// Subscribe registers a tail of raw received lines.
func (m *Manager) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 16)
	m.tailMu.Lock()
	m.tail[id] = ch
	m.tailMu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a tail.
func (m *Manager) Unsubscribe(id string) {
	m.tailMu.Lock()
	defer m.tailMu.Unlock()
	if ch, ok := m.tail[id]; ok {
		close(ch)
		delete(m.tail, id)
	}
}

// AttachAdminRoutes exposes the serial console and tail under /debug/.
func (m *Manager) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutes(mux, m)
}

func (m *Manager) fanoutRaw(line string) {
	m.tailMu.Lock()
	defer m.tailMu.Unlock()
	for _, ch := range m.tail {
		select {
		case ch <- line:
		default:
		}
	}
}
