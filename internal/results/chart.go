package results

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/saveenergy/chunkbench/pkg/types"
)

// ErrEmptySeries is returned when there is nothing to draw, typically because
// fewer chunks arrived than the smoothing window needs.
var ErrEmptySeries = errors.New("smoothed series is empty")

const (
	chartWidth  = 10 * vg.Inch
	chartHeight = 8 * vg.Inch
)

var (
	latencyColor = color.RGBA{B: 200, A: 255}
	rateColor    = color.RGBA{G: 140, A: 255}
	averageColor = color.RGBA{R: 200, A: 255}
)

// RenderChart writes a PNG with the smoothed latency panel above the
// smoothed rate panel. Each panel carries a dashed line at the raw average.
func RenderChart(w io.Writer, series types.SmoothedSeries) error {
	if series.Len() == 0 || len(series.Rate) == 0 {
		return ErrEmptySeries
	}

	latency, err := panel(
		fmt.Sprintf("Latency per Download (Smoothed over %d)", series.Window),
		"Latency (s)", series.Latency, latencyColor,
		"Average Latency", series.AvgLatencySeconds)
	if err != nil {
		return err
	}
	latency.Y.Min = 0
	latency.Y.Max = floats.Max(series.Latency)

	rate, err := panel(
		fmt.Sprintf("Effective Data Rate per Download (Smoothed over %d)", series.Window),
		"Effective Data Rate (bps)", series.Rate, rateColor,
		"Average Effective Data Rate", series.AvgRateBps)
	if err != nil {
		return err
	}
	rate.Y.Min = 0
	rate.Y.Max = 2 * series.AvgRateBps

	for _, p := range []*plot.Plot{latency, rate} {
		if p.Y.Max <= p.Y.Min {
			p.Y.Max = p.Y.Min + 1
		}
	}

	img := vgimg.New(chartWidth, chartHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      2,
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter,
		PadTop:    vg.Points(4),
		PadBottom: vg.Points(4),
		PadLeft:   vg.Points(4),
		PadRight:  vg.Points(4),
	}
	plots := [][]*plot.Plot{{latency}, {rate}}
	canvases := plot.Align(plots, tiles, dc)
	for row := range plots {
		plots[row][0].Draw(canvases[row][0])
	}

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return fmt.Errorf("encode chart png: %w", err)
	}
	return nil
}

func SaveChart(path string, series types.SmoothedSeries) (err error) {
	if series.Len() == 0 {
		return ErrEmptySeries
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close chart: %w", cerr)
		}
	}()
	return RenderChart(f, series)
}

func panel(title, yLabel string, values []float64, lineColor color.Color, avgLabel string, avg float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Download Number"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", title, err)
	}
	line.LineStyle.Color = lineColor
	line.LineStyle.Width = vg.Points(1.5)

	ref, err := plotter.NewLine(plotter.XYs{
		{X: 1, Y: avg},
		{X: float64(len(values)), Y: avg},
	})
	if err != nil {
		return nil, fmt.Errorf("%s average: %w", title, err)
	}
	ref.LineStyle.Color = averageColor
	ref.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}

	p.Add(line, ref)
	p.Legend.Add(yLabel, line)
	p.Legend.Add(fmt.Sprintf("%s: %.2f", avgLabel, avg), ref)
	p.X.Min = 1
	p.X.Max = float64(len(values))
	if p.X.Max <= p.X.Min {
		p.X.Max = p.X.Min + 1
	}
	return p, nil
}
