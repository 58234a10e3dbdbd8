// Package api serves the platform's HTTP routes, the telemetry WebSocket and
// the debug views.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsweb"

	"github.com/banshee-data/stewart/internal/command"
	"github.com/banshee-data/stewart/internal/httputil"
	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/link"
	"github.com/banshee-data/stewart/internal/motion"
	"github.com/banshee-data/stewart/internal/platform"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultWSWriteTimeout = 5 * time.Second
	defaultWSPingInterval = 30 * time.Second
)

// Options tune the telemetry WebSocket. Zero values select the defaults.
type Options struct {
	WSWriteTimeout time.Duration
	WSPingInterval time.Duration
}

type Server struct {
	p        *platform.Platform
	upgrader websocket.Upgrader
	wsWrite  time.Duration
	wsPing   time.Duration
}

func NewServer(p *platform.Platform, opts Options) *Server {
	s := &Server{
		p:       p,
		wsWrite: opts.WSWriteTimeout,
		wsPing:  opts.WSPingInterval,
		upgrader: websocket.Upgrader{
			// The operator UI is served from other origins during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.wsWrite <= 0 {
		s.wsWrite = defaultWSWriteTimeout
	}
	if s.wsPing <= 0 {
		s.wsPing = defaultWSPingInterval
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration. The telemetry
// socket is passed through untouched so it can be hijacked.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/calculate", s.handleCalculate)
	mux.HandleFunc("/apply_pose", s.handleApplyPose)
	mux.HandleFunc("/joystick/pose", s.handleJoystickPose)
	mux.HandleFunc("/config", s.handleConfig)

	mux.HandleFunc("/serial/open", s.handleSerialOpen)
	mux.HandleFunc("/serial/close", s.handleSerialClose)
	mux.HandleFunc("/serial/status", s.handleSerialStatus)
	mux.HandleFunc("/serial/ports", s.handleSerialPorts)
	mux.HandleFunc("/serial/send", s.handleSerialSend)
	mux.HandleFunc("/telemetry", s.handleTelemetry)
	mux.HandleFunc("/ws/telemetry", s.handleTelemetryWS)

	mux.HandleFunc("/motion/start", s.handleMotionStart)
	mux.HandleFunc("/motion/stop", s.handleMotionStop)
	mux.HandleFunc("/motion/status", s.handleMotionStatus)

	mux.HandleFunc("/pid/setpoint", s.handlePIDSetpoint)
	mux.HandleFunc("/pid/offset", s.handlePIDOffset)
	mux.HandleFunc("/pid/gains", s.handlePIDGains)
	mux.HandleFunc("/pid/gains/all", s.handlePIDGainsAll)
	mux.HandleFunc("/pid/feedforward", s.handlePIDFeedforward)
	mux.HandleFunc("/pid/feedforward/all", s.handlePIDFeedforwardAll)
	mux.HandleFunc("/pid/settings", s.handlePIDSettings)
	mux.HandleFunc("/pid/manual/{action}", s.handlePIDManual)
	mux.HandleFunc("/pid/select/{piston}", s.handlePIDSelect)

	return mux
}

// AttachDebugRoutes mounts the serial console, the raw line tail and the
// geometry and routine charts under /debug/.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	s.p.Link.AttachAdminRoutes(mux)
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("geometry.svg", "base and platform anchors at a pose (SVG)", s.handleGeometrySVG)
	debug.HandleFunc("routine-preview", "commanded leg lengths of a routine", s.handleRoutinePreview)
}

// allow writes a 405 and reports false unless r uses one of methods.
func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	httputil.MethodNotAllowed(w)
	return false
}

// writeError maps platform errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, motion.ErrAlreadyRunning):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, link.ErrLinkIO):
		httputil.BadGateway(w, err.Error())
	case errors.Is(err, link.ErrPortNotOpen),
		errors.Is(err, link.ErrAlreadyOpen),
		errors.Is(err, link.ErrPortUnavailable),
		errors.Is(err, platform.ErrInvalidInput),
		errors.Is(err, motion.ErrInvalidRequest),
		errors.Is(err, kinematics.ErrInvalidGeometry),
		errors.Is(err, command.ErrBadActuator),
		errors.Is(err, command.ErrBadAction):
		httputil.BadRequest(w, err.Error())
	default:
		log.Printf("api: %v", err)
		httputil.InternalServerError(w, err.Error())
	}
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		httputil.BadRequest(w, err.Error())
		return false
	}
	return true
}

type messageResponse struct {
	Message string   `json:"message"`
	Sent    []string `json:"sent,omitempty"`
}
