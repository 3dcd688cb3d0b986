package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/gridctl/internal/config"
	"github.com/banshee-data/gridctl/internal/curve"
	"github.com/banshee-data/gridctl/internal/grid"
	"github.com/banshee-data/gridctl/internal/httputil"
	"github.com/banshee-data/gridctl/internal/policy"
)

// Curves are sampled every degree over this range.
const (
	chartMinTemp = 0
	chartMaxTemp = 100
)

type namedCurve struct {
	channel int
	name    string
	curve   curve.Curve
}

// selectCurves returns the curve of the channel named by the "channel" query
// parameter, or of every auto channel when it is absent.
func selectCurves(r *http.Request, cfg *config.Config) ([]namedCurve, error) {
	var out []namedCurve
	if v := r.URL.Query().Get("channel"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil || !grid.ValidChannel(ch) {
			return nil, badRequest("invalid 'channel' parameter: must be between 1 and %d", grid.NumChannels)
		}
		p, ok := cfg.Fan(ch)
		if !ok {
			return nil, notFound("fan %d is not configured", ch)
		}
		return append(out, namedCurve{ch, channelLabel(ch, p), p.Curve}), nil
	}
	for ch := 1; ch <= grid.NumChannels; ch++ {
		p, ok := cfg.Fan(ch)
		if !ok {
			continue
		}
		if mode, _ := policy.ParseMode(string(p.Mode)); mode == policy.Auto {
			out = append(out, namedCurve{ch, channelLabel(ch, p), p.Curve})
		}
	}
	if len(out) == 0 {
		return nil, notFound("no fan is in auto mode")
	}
	return out, nil
}

func channelLabel(ch int, p policy.ChannelPolicy) string {
	if p.Name != "" {
		return fmt.Sprintf("%d: %s", ch, p.Name)
	}
	return fmt.Sprintf("fan %d", ch)
}

// handleCurveChart renders the fan curves as an interactive HTML line chart.
// Query params:
//   - channel (optional; defaults to every auto channel)
func (s *Server) handleCurveChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg, epoch := s.store.Snapshot()
	curves, err := selectCurves(r, cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	x := make([]string, 0, chartMaxTemp-chartMinTemp+1)
	for t := chartMinTemp; t <= chartMaxTemp; t++ {
		x = append(x, strconv.Itoa(t))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fan curves", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fan curves", Subtitle: fmt.Sprintf("configuration epoch %d", epoch)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Temperature (°C)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Level (%)", Min: 0, Max: 100}),
	)
	line.SetXAxis(x)
	for _, c := range curves {
		data := make([]opts.LineData, 0, len(x))
		for t := chartMinTemp; t <= chartMaxTemp; t++ {
			data = append(data, opts.LineData{Value: curve.EvaluateLevel(float64(t), c.curve)})
		}
		line.AddSeries(c.name, data)
	}

	renderPage(w, line)
}

// handleCurvePNG renders the fan curves as a static PNG with gonum/plot.
// Query params:
//   - channel (optional; defaults to every auto channel)
func (s *Server) handleCurvePNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg, _ := s.store.Snapshot()
	curves, err := selectCurves(r, cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	p := plot.New()
	p.Title.Text = "Fan curves"
	p.X.Label.Text = "Temperature (°C)"
	p.Y.Label.Text = "Level (%)"
	p.X.Min, p.X.Max = chartMinTemp, chartMaxTemp
	p.Y.Min, p.Y.Max = 0, 100
	p.Add(plotter.NewGrid())

	for i, c := range curves {
		pts := make(plotter.XYs, 0, chartMaxTemp-chartMinTemp+1)
		for t := chartMinTemp; t <= chartMaxTemp; t++ {
			pts = append(pts, plotter.XY{X: float64(t), Y: float64(curve.EvaluateLevel(float64(t), c.curve))})
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to build curve line: %v", err))
			return
		}
		l.Width = vg.Points(1.5)
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(c.name, l)

		if len(c.curve) > 0 {
			ctrl := make(plotter.XYs, 0, len(c.curve))
			for _, pt := range c.curve {
				ctrl = append(ctrl, plotter.XY{X: pt.Temp, Y: pt.Level})
			}
			sc, err := plotter.NewScatter(ctrl)
			if err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("failed to build control points: %v", err))
				return
			}
			sc.Color = plotutil.Color(i)
			p.Add(sc)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = true

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// handleHistoryChart renders the recorded target and confirmed level of one
// channel, plus the signal it follows when in auto mode.
// Query params:
//   - channel (optional; default 1)
//   - minutes (optional; default 60, max 1440)
func (s *Server) handleHistoryChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "history is disabled")
		return
	}
	ch, err := intParam(r, "channel", 1, 1, grid.NumChannels)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	minutes, err := intParam(r, "minutes", 60, 1, 24*60)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	since := s.now().Add(-time.Duration(minutes) * time.Minute)

	points, err := s.history.ChannelHistory(r.Context(), ch, since, 0)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read history: %v", err))
		return
	}

	x := make([]string, 0, len(points))
	targets := make([]opts.LineData, 0, len(points))
	levels := make([]opts.LineData, 0, len(points))
	for _, pt := range points {
		x = append(x, pt.Time.Local().Format("15:04:05"))
		targets = append(targets, opts.LineData{Value: pt.Target})
		if pt.Level < 0 {
			levels = append(levels, opts.LineData{Value: "-"})
		} else {
			levels = append(levels, opts.LineData{Value: pt.Level})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fan history", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Fan %d", ch), Subtitle: fmt.Sprintf("last %d minutes, %d samples", minutes, len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("target", targets).
		AddSeries("level", levels)

	cfg, _ := s.store.Snapshot()
	if p, ok := cfg.Fan(ch); ok && p.Signal != "" {
		if mode, _ := policy.ParseMode(string(p.Mode)); mode == policy.Auto {
			sig, err := s.history.SignalHistory(r.Context(), p.Signal, since, 0)
			if err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("failed to read signal history: %v", err))
				return
			}
			if len(sig) == len(points) {
				data := make([]opts.LineData, 0, len(sig))
				for _, pt := range sig {
					data = append(data, opts.LineData{Value: pt.Value})
				}
				line.AddSeries(p.Signal+" (°C)", data)
			}
		}
	}

	renderPage(w, line)
}

func renderPage(w http.ResponseWriter, chart components.Charter) {
	page := components.NewPage()
	page.AddCharts(chart)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
