package api

import (
	"context"
	"net/http"

	"github.com/banshee-data/stewart/internal/httputil"
	"github.com/banshee-data/stewart/internal/motion"
)

func (s *Server) handleMotionStart(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req motion.Request
	if !decode(w, r, &req) {
		return
	}
	st, err := s.p.StartRoutine(req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

// handleMotionStop handles POST /motion/stop. The return to home runs to
// completion even if the client goes away.
func (s *Server) handleMotionStop(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	st := s.p.StopRoutine(context.WithoutCancel(r.Context()))
	httputil.WriteJSONOK(w, st)
}

func (s *Server) handleMotionStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.p.RoutineStatus())
}
