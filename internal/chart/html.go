package chart

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// AssetsHost is where rendered pages load the echarts script from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderLinesHTML writes an interactive line chart page of series to w.
func RenderLinesHTML(w io.Writer, labels Labels, subtitle string, series []Series) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: labels.Title, Width: "100%", Height: "640px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: labels.Title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: labels.X, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: labels.Y, NameLocation: "middle", NameGap: 50}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	for _, s := range series {
		data := make([]opts.LineData, s.Len())
		for i := range s.X {
			data[i] = opts.LineData{Value: []interface{}{s.X[i], s.Y[i]}}
		}
		line.AddSeries(s.Name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}
	if err := line.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// RenderMapHTML writes a colour-mapped scatter of a 2D sweep: x and y
// columns give the position, z the colour.
func RenderMapHTML(w io.Writer, labels Labels, header []string, rows [][]float64, xCol, yCol, zCol int) error {
	for _, c := range []int{xCol, yCol, zCol} {
		if c < 0 || c >= len(header) {
			return fmt.Errorf("column %d outside 0..%d", c, len(header)-1)
		}
	}

	data := make([]opts.ScatterData, 0, len(rows))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		x, y, z := r[xCol], r[yCol], r[zCol]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
			continue
		}
		lo, hi = math.Min(lo, z), math.Max(hi, z)
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, z}})
	}
	if len(data) == 0 {
		lo, hi = 0, 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: labels.Title, Width: "900px", Height: "720px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: labels.Title, Subtitle: fmt.Sprintf("%s vs %s, colour %s", header[yCol], header[xCol], header[zCol])}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: header[xCol], NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: header[yCol], NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries(header[zCol], data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
