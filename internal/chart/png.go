package chart

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Labels are the title and axis labels of a chart.
type Labels struct {
	Title string
	X     string
	Y     string
}

// PNG page size.
const (
	pngWidth  = 10 * vg.Inch
	pngHeight = 6 * vg.Inch
)

func (s Series) xys() plotter.XYs {
	pts := make(plotter.XYs, s.Len())
	for i := range pts {
		pts[i].X, pts[i].Y = s.X[i], s.Y[i]
	}
	return pts
}

// NewLinePlot builds a gonum plot with one line per non-empty series. Series
// i takes the i-th colour and glyph of plotutil's cycles, so a trace keeps
// its look when neighbouring traces are empty.
func NewLinePlot(labels Labels, series []Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = labels.Title
	p.X.Label.Text = labels.X
	p.Y.Label.Text = labels.Y
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, s := range series {
		if s.Len() == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(s.xys())
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", s.Name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)
		points.Radius = vg.Points(2)
		p.Add(line, points)
		p.Legend.Add(s.Name, line, points)
	}
	return p, nil
}

// SavePNG renders series to a PNG file at path.
func SavePNG(path string, labels Labels, series []Series) error {
	p, err := NewLinePlot(labels, series)
	if err != nil {
		return err
	}
	if err := p.Save(pngWidth, pngHeight, path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}
