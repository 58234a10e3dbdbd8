// Package serialmux provides an abstraction over a serial port: a single
// reader that frames the byte stream into lines, serialised command writes,
// and fan-out of raw lines to debug subscribers.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/stewart/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

const (
	// ReadTimeout bounds each blocking read so the reader notices cancellation.
	ReadTimeout = 200 * time.Millisecond

	readChunkSize    = 1024
	subscriberBuffer = 16
)

var sendCommandTemplate = template.Must(template.New("send-command").Parse(sendCommandHTML))

// LineHandler receives each complete line read from the port, without the
// line terminator. It runs on the reader goroutine.
type LineHandler func(line string)

// SerialMux is a generic serial port multiplexer. One reader goroutine
// (Monitor) frames incoming bytes into lines and hands them to the handler
// and to any subscribers; writers share the port through SendCommand.
type SerialMux[T SerialPorter] struct {
	port         T
	handler      LineHandler
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving raw lines from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads lines from the serial port until the context is done,
	// the port reports EOF, or a read fails.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux over an already opened port. handler may
// be nil.
func NewSerialMux[T SerialPorter](port T, handler LineHandler) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		handler:     handler,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a command to the serial port. Concurrent callers are
// serialised so lines never interleave.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads from the port in chunks, splits the stream on '\n' and
// dispatches each line. Invalid UTF-8 is replaced rather than rejected and
// trailing '\r' characters are dropped. A partial line left in the buffer is
// flushed once when reading stops.
//
// When the port supports it, reads time out after ReadTimeout so
// cancellation is observed within one timeout. Returns nil on EOF or after
// Close, ctx.Err() on cancellation, otherwise the read error.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	if tp, ok := any(s.port).(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(ReadTimeout); err != nil {
			monitoring.Logf("serialmux: set read timeout: %v", err)
		}
	}

	var pending []byte
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			s.flush(pending)
			return err
		}
		if s.isClosing() {
			s.flush(pending)
			return nil
		}

		n, err := s.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = s.dispatchLines(pending)
		}
		if err != nil {
			s.flush(pending)
			if errors.Is(err, io.EOF) || s.isClosing() {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// dispatchLines emits every complete line in buf and returns the remainder.
func (s *SerialMux[T]) dispatchLines(buf []byte) []byte {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		s.emit(buf[:i])
		buf = buf[i+1:]
	}
	if len(buf) == 0 {
		return nil
	}
	// Copy so the backing array of consumed lines can be released.
	return append([]byte(nil), buf...)
}

func (s *SerialMux[T]) flush(pending []byte) {
	if len(pending) > 0 {
		s.emit(pending)
	}
}

func (s *SerialMux[T]) emit(raw []byte) {
	line := strings.ToValidUTF8(string(raw), "�")
	line = strings.TrimRight(line, "\r")

	if s.handler != nil {
		s.handler(line)
	}

	s.subscriberMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full/blocking skip so as not to block the reader
		}
	}
	s.subscriberMu.Unlock()
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutes(mux, s)
}

// Commander is the part of a mux the admin routes need. It lets a caller
// that swaps ports at runtime expose a stable set of routes.
type Commander interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
	SendCommand(string) error
}

// AttachAdminRoutes registers the send-command page, its API endpoint and
// the SSE tail of raw lines under /debug/.
func AttachAdminRoutes(mux *http.ServeMux, c Commander) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail monitor interface using the below two API endpoints.
	debug.HandleFunc("send-command", "send a command to the serial port", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	// API endpoint to write command to the serial port
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := c.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command: "+err.Error(), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// API endpoint to issue Server-Side Events (SSE) in response to lines coming from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, ch := c.Subscribe()
		defer c.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

const sendCommandHTML = `<!DOCTYPE html>
<html>
<head><title>serial console</title>
<style>
body { font-family: monospace; margin: 1em; }
#log { height: 60vh; overflow-y: scroll; border: 1px solid #ccc; padding: .5em; white-space: pre; }
</style>
</head>
<body>
<form id="cmd">
  <input name="command" size="60" autofocus placeholder="spmm6x=90,90,90,90,90,90">
  <button type="submit">send</button>
</form>
<div id="status"></div>
<div id="log"></div>
<script>
const log = document.getElementById("log");
const status = document.getElementById("status");
document.getElementById("cmd").addEventListener("submit", async (e) => {
  e.preventDefault();
  const body = new URLSearchParams(new FormData(e.target));
  const resp = await fetch("send-command-api", {method: "POST", body});
  status.textContent = await resp.text();
});
const es = new EventSource("tail");
es.onmessage = (e) => {
  log.textContent += e.data + "\n";
  if (log.textContent.length > 200000) log.textContent = log.textContent.slice(-100000);
  log.scrollTop = log.scrollHeight;
};
</script>
</body>
</html>
`
