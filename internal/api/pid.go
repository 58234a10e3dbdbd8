package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/stewart/internal/command"
	"github.com/banshee-data/stewart/internal/httputil"
)

// Requests for the firmware tuning routes. Piston numbers run 1 to 6; a nil
// piston on setpoint and offset addresses every actuator.

type setpointRequest struct {
	Piston *int     `json:"piston"`
	Value  *float64 `json:"value"`
}

type gainsRequest struct {
	Piston int      `json:"piston"`
	Kp     *float64 `json:"kp"`
	Ki     *float64 `json:"ki"`
	Kd     *float64 `json:"kd"`
}

type feedforwardRequest struct {
	Piston int      `json:"piston"`
	U0Adv  *float64 `json:"u0_adv"`
	U0Ret  *float64 `json:"u0_ret"`
}

func writeSent(w http.ResponseWriter, msg string, sent []string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, messageResponse{Message: msg, Sent: sent})
}

// queryFloats fills unset pointers from query parameters of the same name.
// The bulk routes accept either a JSON body or ?kp=...&ki=....
func queryFloats(r *http.Request, fields map[string]**float64) error {
	q := r.URL.Query()
	for name, dst := range fields {
		if *dst != nil || !q.Has(name) {
			continue
		}
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", name, q.Get(name))
		}
		*dst = &v
	}
	return nil
}

func (s *Server) handlePIDSetpoint(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req setpointRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		httputil.BadRequest(w, "value is required")
		return
	}
	sent, err := s.p.SetSetpoint(r.Context(), req.Piston, *req.Value)
	writeSent(w, "setpoint updated", sent, err)
}

func (s *Server) handlePIDOffset(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req setpointRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		httputil.BadRequest(w, "value is required")
		return
	}
	sent, err := s.p.SetOffset(r.Context(), req.Piston, *req.Value)
	writeSent(w, "offset updated", sent, err)
}

// handlePIDGains handles POST /pid/gains for one piston and GET /pid/gains,
// which lists what was last sent to each actuator.
func (s *Server) handlePIDGains(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodGet {
		gains, err := s.p.StoredGains()
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]any{"gains": gains})
		return
	}
	var req gainsRequest
	if !decode(w, r, &req) {
		return
	}
	sent, err := s.p.SetGains(r.Context(), req.Piston, req.Kp, req.Ki, req.Kd)
	writeSent(w, fmt.Sprintf("gains updated for piston %d", req.Piston), sent, err)
}

func (s *Server) handlePIDGainsAll(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req gainsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := queryFloats(r, map[string]**float64{"kp": &req.Kp, "ki": &req.Ki, "kd": &req.Kd}); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sent, err := s.p.SetGainsAll(r.Context(), req.Kp, req.Ki, req.Kd)
	writeSent(w, "gains updated for all pistons", sent, err)
}

func (s *Server) handlePIDFeedforward(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req feedforwardRequest
	if !decode(w, r, &req) {
		return
	}
	sent, err := s.p.SetFeedforward(r.Context(), req.Piston, req.U0Adv, req.U0Ret)
	writeSent(w, fmt.Sprintf("feed-forward updated for piston %d", req.Piston), sent, err)
}

func (s *Server) handlePIDFeedforwardAll(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req feedforwardRequest
	if !decode(w, r, &req) {
		return
	}
	if err := queryFloats(r, map[string]**float64{"u0_adv": &req.U0Adv, "u0_ret": &req.U0Ret}); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sent, err := s.p.SetFeedforwardAll(r.Context(), req.U0Adv, req.U0Ret)
	writeSent(w, "feed-forward updated for all pistons", sent, err)
}

func (s *Server) handlePIDSettings(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req command.Settings
	if !decode(w, r, &req) {
		return
	}
	sent, err := s.p.ApplySettings(r.Context(), req)
	writeSent(w, "settings updated", sent, err)
}

// handlePIDManual handles POST /pid/manual/{action} with action A, R or ok.
func (s *Server) handlePIDManual(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	sent, err := s.p.Manual(r.Context(), r.PathValue("action"))
	writeSent(w, "manual command sent", sent, err)
}

func (s *Server) handlePIDSelect(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	n, err := strconv.Atoi(r.PathValue("piston"))
	if err != nil {
		httputil.BadRequest(w, "piston must be a number")
		return
	}
	sent, err := s.p.SelectActuator(r.Context(), n)
	writeSent(w, fmt.Sprintf("piston %d selected", n), sent, err)
}
