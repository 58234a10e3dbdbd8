package serialmux

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SimulatedPort is an in-process stand-in for the actuator controller. It
// accepts the setpoint commands the controller understands and answers with
// telemetry frames, so the service can run end to end without hardware.
//
// Each actuator follows its setpoint with a first-order lag. Frames carry the
// device clock, the mean setpoint, six strokes, six PWM duties and a zero
// orientation triple.
type SimulatedPort struct {
	mu       sync.Mutex
	start    time.Time
	last     time.Time
	next     time.Time
	interval time.Duration
	timeout  time.Duration
	lag      time.Duration
	span     float64

	target [6]float64
	pos    [6]float64
	pwm    [6]int

	out     []byte
	inLine  []byte
	closed  bool
	closeCh chan struct{}
}

// NewSimulatedPort returns a device whose actuators start at initial mm of
// stroke, bounded to [0, span], and emit a frame every interval.
func NewSimulatedPort(initial, span float64, interval time.Duration) *SimulatedPort {
	now := time.Now()
	p := &SimulatedPort{
		start:    now,
		last:     now,
		next:     now.Add(interval),
		interval: interval,
		lag:      150 * time.Millisecond,
		span:     span,
		closeCh:  make(chan struct{}),
	}
	for i := range p.pos {
		p.pos[i] = initial
		p.target[i] = initial
	}
	return p
}

var errSimulatedClosed = errors.New("simulated port closed")

// Read returns buffered frame bytes, waiting for the next frame when the
// buffer is empty. With a read timeout set, a wait longer than the timeout
// returns (0, nil) as a hardware port would.
func (p *SimulatedPort) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, errSimulatedClosed
		}
		if len(p.out) > 0 {
			n := copy(b, p.out)
			p.out = p.out[n:]
			p.mu.Unlock()
			return n, nil
		}
		wait := time.Until(p.next)
		timeout := p.timeout
		p.mu.Unlock()

		timedOut := false
		if timeout > 0 && wait > timeout {
			wait = timeout
			timedOut = true
		}
		if wait > 0 {
			select {
			case <-p.closeCh:
				return 0, errSimulatedClosed
			case <-time.After(wait):
			}
		}
		if timedOut {
			return 0, nil
		}

		p.mu.Lock()
		if !p.closed && !time.Now().Before(p.next) {
			p.step(time.Now())
		}
		p.mu.Unlock()
	}
}

// step advances the actuators to now and queues one frame. Caller holds mu.
func (p *SimulatedPort) step(now time.Time) {
	dt := now.Sub(p.last).Seconds()
	p.last = now
	p.next = now.Add(p.interval)

	alpha := 1 - math.Exp(-dt/p.lag.Seconds())
	var sp float64
	fields := make([]string, 0, 17)
	fields = append(fields, strconv.FormatInt(now.Sub(p.start).Milliseconds(), 10), "")
	for i := range p.pos {
		errMM := p.target[i] - p.pos[i]
		p.pos[i] += errMM * alpha
		p.pwm[i] = int(math.Max(-255, math.Min(255, errMM*20)))
		sp += p.target[i]
	}
	fields[1] = strconv.FormatFloat(sp/6, 'f', 2, 64)
	for _, v := range p.pos {
		fields = append(fields, strconv.FormatFloat(v, 'f', 2, 64))
	}
	for _, v := range p.pwm {
		fields = append(fields, strconv.Itoa(v))
	}
	fields = append(fields, "0.00", "0.00", "0.00")
	p.out = append(p.out, "ms;"+strings.Join(fields, ";")+"\r\n"...)
}

// Write parses complete command lines. Setpoint commands (spmm, spmmN and
// spmm6x) move the simulated targets; everything else is accepted and
// ignored.
func (p *SimulatedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errSimulatedClosed
	}
	p.inLine = append(p.inLine, b...)
	for {
		i := strings.IndexByte(string(p.inLine), '\n')
		if i < 0 {
			break
		}
		p.apply(strings.TrimSpace(string(p.inLine[:i])))
		p.inLine = p.inLine[i+1:]
	}
	return len(b), nil
}

func (p *SimulatedPort) apply(cmd string) {
	key, val, ok := strings.Cut(cmd, "=")
	if !ok {
		return
	}
	switch {
	case key == "spmm6x":
		parts := strings.Split(val, ",")
		if len(parts) != 6 {
			return
		}
		var next [6]float64
		for i, s := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return
			}
			next[i] = p.bound(v)
		}
		p.target = next
	case key == "spmm":
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			for i := range p.target {
				p.target[i] = p.bound(v)
			}
		}
	case strings.HasPrefix(key, "spmm") && len(key) == 5:
		n, err := strconv.Atoi(key[4:])
		if err != nil || n < 1 || n > 6 {
			return
		}
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			p.target[n-1] = p.bound(v)
		}
	}
}

func (p *SimulatedPort) bound(v float64) float64 {
	return math.Max(0, math.Min(p.span, v))
}

// Targets returns the current setpoints.
func (p *SimulatedPort) Targets() [6]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// SetReadTimeout implements TimeoutSerialPorter.
func (p *SimulatedPort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
	return nil
}

// Close stops frame generation and unblocks readers.
func (p *SimulatedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closeCh)
	return nil
}

// SimulatedPortFactory opens SimulatedPorts. Every Open returns a fresh
// device; List reports a single virtual port.
type SimulatedPortFactory struct {
	Initial  float64
	Span     float64
	Interval time.Duration
}

// SimulatedPortName is the only port a SimulatedPortFactory lists.
const SimulatedPortName = "sim://stewart"

func (f SimulatedPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	if _, err := opts.Normalise(); err != nil {
		return nil, err
	}
	if path != SimulatedPortName {
		return nil, fmt.Errorf("no simulated device at %q", path)
	}
	interval := f.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return NewSimulatedPort(f.Initial, f.Span, interval), nil
}

func (f SimulatedPortFactory) List() ([]string, error) {
	return []string{SimulatedPortName}, nil
}
