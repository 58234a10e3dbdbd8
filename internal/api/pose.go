package api

import (
	"net/http"

	"github.com/banshee-data/stewart/internal/httputil"
	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/platform"
)

// handleCalculate handles POST /calculate. Omitted fields default to zero and
// z to the home height.
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req kinematics.PoseRequest
	if !decode(w, r, &req) {
		return
	}
	httputil.WriteJSONOK(w, s.p.ComputePose(req))
}

// handleApplyPose handles POST /apply_pose. An unreachable pose is a 200 with
// applied=false.
func (s *Server) handleApplyPose(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req kinematics.PoseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.p.ApplyPose(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) handleJoystickPose(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var in platform.JoystickInput
	if !decode(w, r, &in) {
		return
	}
	res, err := s.p.JoystickPose(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

type configResponse struct {
	Message string              `json:"message"`
	Config  kinematics.Geometry `json:"config"`
}

// handleConfig handles GET and POST /config. A POST body is merged over the
// active geometry, so {"h0": 520} changes only the home height.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodGet {
		httputil.WriteJSONOK(w, s.p.Config())
		return
	}
	g := s.p.Config()
	if !decode(w, r, &g) {
		return
	}
	applied, err := s.p.SetConfig(g)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, configResponse{Message: "configuration updated", Config: applied})
}
