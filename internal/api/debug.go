package api

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/stewart/internal/httputil"
	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/motion"
)

const defaultPreviewStep = 0.05

var (
	baseColor     = color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 0xff}
	platformColor = color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff}
	legColor      = color.RGBA{R: 0x70, G: 0x70, B: 0x70, A: 0xff}
	badLegColor   = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

// queryFloat parses name from q into dst, leaving dst alone when absent.
func queryFloat(q url.Values, name string, dst *float64) error {
	if !q.Has(name) {
		return nil
	}
	v, err := strconv.ParseFloat(q.Get(name), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid %s: %q", name, q.Get(name))
	}
	*dst = v
	return nil
}

func poseFromQuery(q url.Values) (kinematics.PoseRequest, error) {
	var req kinematics.PoseRequest
	fields := map[string]*float64{
		"x": &req.X, "y": &req.Y, "roll": &req.Roll, "pitch": &req.Pitch, "yaw": &req.Yaw,
	}
	for name, dst := range fields {
		if err := queryFloat(q, name, dst); err != nil {
			return req, err
		}
	}
	if q.Has("z") {
		var z float64
		if err := queryFloat(q, "z", &z); err != nil {
			return req, err
		}
		req.Z = &z
	}
	return req, nil
}

func routineFromQuery(q url.Values) (motion.Request, float64, error) {
	req := motion.Request{
		Routine: q.Get("routine"),
		Axis:    q.Get("axis"),
	}
	fields := map[string]*float64{
		"amp": &req.Amp, "hz": &req.Hz, "phase_deg": &req.PhaseDeg,
		"ax": &req.Ax, "ay": &req.Ay, "fx": &req.Fx, "fy": &req.Fy, "phx": &req.Phx, "phy": &req.Phy,
		"z_amp_mm": &req.ZAmpMM, "z_cycles": &req.ZCycles,
		"tilt_deg": &req.TiltDeg, "tilt_bias_deg": &req.TiltBiasDeg,
		"prec_hz": &req.PrecHz, "yaw_hz": &req.YawHz, "z_phase_deg": &req.ZPhaseDeg,
		"duration_s": &req.DurationS,
	}
	for name, dst := range fields {
		if err := queryFloat(q, name, dst); err != nil {
			return req, 0, err
		}
	}
	step := defaultPreviewStep
	if err := queryFloat(q, "step", &step); err != nil {
		return req, 0, err
	}
	return req, step, nil
}

// handleGeometrySVG draws a top view of the anchors and legs at the pose in
// the query (x, y, z, roll, pitch, yaw). Legs outside the stroke window are
// drawn in red.
func (s *Server) handleGeometrySVG(w http.ResponseWriter, r *http.Request) {
	req, err := poseFromQuery(r.URL.Query())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res := s.p.ComputePose(req)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("x=%g y=%g z=%g roll=%g pitch=%g yaw=%g valid=%t",
		res.Pose.X, res.Pose.Y, res.Pose.Z, res.Pose.Roll, res.Pose.Pitch, res.Pose.Yaw, res.Valid)
	p.X.Label.Text = "x (mm)"
	p.Y.Label.Text = "y (mm)"
	p.Add(plotter.NewGrid())

	base := make(plotter.XYs, 0, kinematics.NumActuators+1)
	plat := make(plotter.XYs, 0, kinematics.NumActuators+1)
	for i := range kinematics.NumActuators {
		base = append(base, plotter.XY{X: res.BasePoints[i][0], Y: res.BasePoints[i][1]})
		plat = append(plat, plotter.XY{X: res.PlatformPoints[i][0], Y: res.PlatformPoints[i][1]})
	}

	for i, a := range res.Actuators {
		leg, err := plotter.NewLine(plotter.XYs{base[i], plat[i]})
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		leg.Color = legColor
		if !a.Valid {
			leg.Color = badLegColor
		}
		leg.Width = vg.Points(1.5)
		p.Add(leg)
	}

	labels := make([]string, kinematics.NumActuators)
	for i := range labels {
		labels[i] = strconv.Itoa(i + 1)
	}
	names, err := plotter.NewLabels(plotter.XYLabels{XYs: plat[:kinematics.NumActuators], Labels: labels})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	for _, outline := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"base", append(base, base[0]), baseColor},
		{"platform", append(plat, plat[0]), platformColor},
	} {
		line, points, err := plotter.NewLinePoints(outline.pts)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		line.Color = outline.c
		line.Width = vg.Points(1)
		points.Color = outline.c
		p.Add(line, points)
		p.Legend.Add(outline.name, line)
	}
	p.Add(names)
	p.Legend.Top = true

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "svg")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = w.Write(buf.Bytes())
}

// handleRoutinePreview renders the commanded leg lengths and pose of a
// routine over its duration. Parameters mirror the /motion/start body as
// query values, plus step (seconds between samples).
func (s *Server) handleRoutinePreview(w http.ResponseWriter, r *http.Request) {
	req, step, err := routineFromQuery(r.URL.Query())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	samples, err := s.p.PreviewRoutine(req, step)
	if err != nil {
		writeError(w, err)
		return
	}

	g := s.p.Config()
	xs := make([]string, len(samples))
	legs := make([][]opts.LineData, kinematics.NumActuators)
	axes := map[string][]opts.LineData{}
	axisOrder := []string{"x", "y", "z", "roll", "pitch", "yaw"}
	invalid := 0
	for i, smp := range samples {
		xs[i] = strconv.FormatFloat(smp.T, 'f', 2, 64)
		for leg := range legs {
			legs[leg] = append(legs[leg], opts.LineData{Value: smp.Lengths[leg]})
		}
		pose := []float64{smp.Pose.X, smp.Pose.Y, smp.Pose.Z - g.HomeHeight, smp.Pose.Roll, smp.Pose.Pitch, smp.Pose.Yaw}
		for j, name := range axisOrder {
			axes[name] = append(axes[name], opts.LineData{Value: pose[j]})
		}
		if !smp.Valid {
			invalid++
		}
	}

	lengths := charts.NewLine()
	lengths.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Routine preview", Width: "1100px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Commanded leg lengths",
			Subtitle: fmt.Sprintf("routine=%s samples=%d invalid=%d stroke=%g..%g", req.Routine, len(samples), invalid, g.StrokeMin, g.StrokeMax),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "length (mm)", Min: g.StrokeMin, Max: g.StrokeMax}),
	)
	lengths.SetXAxis(xs)
	for i, data := range legs {
		lengths.AddSeries(fmt.Sprintf("L%d", i+1), data)
	}

	pose := charts.NewLine()
	pose.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1100px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Commanded pose", Subtitle: "mm and degrees, z relative to home"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
	)
	pose.SetXAxis(xs)
	for _, name := range axisOrder {
		pose.AddSeries(name, axes[name])
	}

	page := components.NewPage().SetPageTitle("Routine preview")
	page.AddCharts(lengths, pose)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
