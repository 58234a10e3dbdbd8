package api

import (
	"fmt"
	"net/http"

	"github.com/banshee-data/stewart/internal/httputil"
	"github.com/banshee-data/stewart/internal/link"
	"github.com/banshee-data/stewart/internal/serialmux"
)

// SerialOpenRequest is the body of POST /serial/open. Unset options default
// to 115200 8N1.
type SerialOpenRequest struct {
	Port     string `json:"port"`
	Baud     int    `json:"baud"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

type serialOpenResponse struct {
	Message string      `json:"message"`
	Status  link.Status `json:"status"`
}

func (s *Server) handleSerialOpen(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req SerialOpenRequest
	if !decode(w, r, &req) {
		return
	}
	opts := serialmux.PortOptions{
		BaudRate: req.Baud,
		DataBits: req.DataBits,
		StopBits: req.StopBits,
		Parity:   req.Parity,
	}
	if err := s.p.OpenLink(req.Port, opts); err != nil {
		writeError(w, err)
		return
	}
	st := s.p.LinkStatus()
	httputil.WriteJSONOK(w, serialOpenResponse{
		Message: fmt.Sprintf("opened %s @ %d", st.Port, st.Baud),
		Status:  st,
	})
}

func (s *Server) handleSerialClose(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := s.p.CloseLink(); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, messageResponse{Message: "closed"})
}

func (s *Server) handleSerialStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.p.LinkStatus())
}

func (s *Server) handleSerialPorts(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	ports, err := s.p.ListPorts()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string][]string{"ports": ports})
}

type sendRequest struct {
	Command string `json:"command"`
}

// handleSerialSend handles POST /serial/send, a free-form console line.
func (s *Server) handleSerialSend(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	sent, err := s.p.SendRaw(req.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, messageResponse{Message: "OK", Sent: []string{sent}})
}

// handleTelemetry handles GET /telemetry: the latest received sample, or {}
// when nothing has arrived since the link opened.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	sample, ok := s.p.Latest()
	if !ok {
		httputil.WriteJSONOK(w, struct{}{})
		return
	}
	httputil.WriteJSONOK(w, sample)
}
