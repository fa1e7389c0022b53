package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/strrl/sensor-chat/internal/sensors"
	"github.com/strrl/sensor-chat/internal/stats"
)

var ErrNoData = errors.New("chart: no readings to plot")

type Config struct {
	PanelWidth  vg.Length
	PanelHeight vg.Length
	TimeFormat  string
}

func DefaultConfig() Config {
	return Config{
		PanelWidth:  5 * vg.Inch,
		PanelHeight: 3 * vg.Inch,
		TimeFormat:  "02/01 15:04",
	}
}

// Panel is one sensor series drawn on its own axes.
type Panel struct {
	Series  stats.Series
	Summary stats.Summary
	YMin    float64
	YMax    float64
	PNG     []byte
}

func (p Panel) Title() string {
	if p.Series.Unit != "" {
		return fmt.Sprintf("%s · %s (%s)", p.Series.DeviceID, p.Series.SensorKey, p.Series.Unit)
	}
	return fmt.Sprintf("%s · %s", p.Series.DeviceID, p.Series.SensorKey)
}

// Caption is the statistics line printed under each panel.
func (p Panel) Caption() string {
	s := p.Summary
	return fmt.Sprintf("μ=%.2f σ=%.2f min=%.2f max=%.2f n=%d", s.Mean, s.StdDev, s.Min, s.Max, s.Count)
}

type Chart struct {
	Panels  []Panel
	Columns int
	Rows    int
	// Grid is every panel composed into one PNG.
	Grid []byte
}

type Renderer struct {
	config    Config
	whitelist *sensors.Whitelist
}

func NewRenderer(cfg Config, wl *sensors.Whitelist) *Renderer {
	if cfg.PanelWidth == 0 || cfg.PanelHeight == 0 {
		def := DefaultConfig()
		cfg.PanelWidth, cfg.PanelHeight = def.PanelWidth, def.PanelHeight
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = DefaultConfig().TimeFormat
	}
	return &Renderer{config: cfg, whitelist: wl}
}

// Columns returns the grid width for n panels.
func Columns(n int) int {
	switch {
	case n <= 1:
		return 1
	case n <= 4:
		return 2
	default:
		return 3
	}
}

// Render draws one panel per (device, sensor) series. Sensors never share an
// axis; each y-axis spans its own series.
func (r *Renderer) Render(readings []sensors.Reading) (*Chart, error) {
	series := stats.Partition(readings, r.whitelist)
	if len(series) == 0 {
		return nil, ErrNoData
	}

	chart := &Chart{Columns: Columns(len(series))}
	chart.Rows = (len(series) + chart.Columns - 1) / chart.Columns

	plots := make([][]*plot.Plot, chart.Rows)
	for i := range plots {
		plots[i] = make([]*plot.Plot, chart.Columns)
	}

	for i, s := range series {
		panel := Panel{Series: s, Summary: stats.Summarize(s)}
		panel.YMin, panel.YMax = axisRange(panel.Summary.Min, panel.Summary.Max)

		p, err := r.plotPanel(panel, i)
		if err != nil {
			return nil, fmt.Errorf("failed to plot %s: %w", s.Name(), err)
		}

		panel.PNG, err = encodePlot(p, r.config.PanelWidth, r.config.PanelHeight)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", s.Name(), err)
		}

		plots[i/chart.Columns][i%chart.Columns] = p
		chart.Panels = append(chart.Panels, panel)
	}

	grid, err := r.encodeGrid(plots, chart.Rows, chart.Columns)
	if err != nil {
		return nil, err
	}
	chart.Grid = grid

	return chart, nil
}

func (r *Renderer) plotPanel(panel Panel, index int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = panel.Title()
	p.X.Label.Text = panel.Caption()
	p.X.Tick.Marker = plot.TimeTicks{Format: r.config.TimeFormat}
	p.Y.Label.Text = panel.Series.Category.Label()
	p.Y.Min = panel.YMin
	p.Y.Max = panel.YMax
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(panel.Series.Readings))
	for i, reading := range panel.Series.Readings {
		xys[i].X = float64(reading.Timestamp.Unix())
		xys[i].Y = reading.Value
	}

	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, err
	}
	line.Color = plotutil.Color(index)
	points.Color = plotutil.Color(index)
	points.Radius = vg.Points(1.5)
	p.Add(line, points)

	mean := panel.Summary.Mean
	meanLine := plotter.NewFunction(func(float64) float64 { return mean })
	meanLine.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	meanLine.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	p.Add(meanLine)
	p.Legend.Add("media", meanLine)
	p.Legend.Top = true

	// Keep the x-range on the data even with a single reading.
	if len(xys) == 1 {
		p.X.Min = xys[0].X - 60
		p.X.Max = xys[0].X + 60
	}

	return p, nil
}

func (r *Renderer) encodeGrid(plots [][]*plot.Plot, rows, cols int) ([]byte, error) {
	img := vgimg.New(r.config.PanelWidth*vg.Length(cols), r.config.PanelHeight*vg.Length(rows))
	dc := draw.New(img)

	tiles := draw.Tiles{
		Rows: rows,
		Cols: cols,
		PadX: vg.Millimeter * 4,
		PadY: vg.Millimeter * 4,
	}

	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		for i, p := range plots[j] {
			if p == nil {
				continue
			}
			p.Draw(canvases[j][i])
		}
	}

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode chart grid: %w", err)
	}
	return buf.Bytes(), nil
}

func encodePlot(p *plot.Plot, w, h vg.Length) ([]byte, error) {
	writer, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// axisRange pads [min, max] by 5% and widens flat series so they stay visible.
func axisRange(min, max float64) (float64, float64) {
	span := max - min
	if span == 0 {
		pad := 1.0
		if min != 0 {
			pad = abs(min) * 0.05
		}
		return min - pad, max + pad
	}
	pad := span * 0.05
	return min - pad, max + pad
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
