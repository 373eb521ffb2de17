package statsservice

import (
	"bytes"
	"fmt"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ChartPalette holds the colors used by rendered charts.
type ChartPalette struct {
	Background  drawing.Color
	PrimaryLine drawing.Color
	AccentLine  drawing.Color
	TextColor   drawing.Color
}

var DefaultPalette = ChartPalette{
	Background:  drawing.ColorFromHex("1e1f22"),
	PrimaryLine: drawing.ColorFromHex("5865f2"),
	AccentLine:  drawing.ColorFromHex("f0b232"),
	TextColor:   drawing.ColorFromHex("dbdee1"),
}

// ratingPadding keeps a flat history from collapsing the y range.
const ratingPadding = 50

func renderRatingChart(points []RatingPoint, palette ChartPalette) ([]byte, error) {
	if len(points) == 0 {
		return renderNoDataPlaceholder(palette)
	}

	xValues := make([]float64, len(points))
	yValues := make([]float64, len(points))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, p := range points {
		xValues[i] = float64(i + 1)
		yValues[i] = float64(p.DisplayRating)
		lo = math.Min(lo, yValues[i])
		hi = math.Max(hi, yValues[i])
	}

	series := chart.ContinuousSeries{
		Name:    "Display rating",
		XValues: xValues,
		YValues: yValues,
		Style: chart.Style{
			StrokeColor: palette.PrimaryLine,
			StrokeWidth: 2,
			DotWidth:    4,
			DotColor:    palette.AccentLine,
		},
	}

	graph := chart.Chart{
		Width:      800,
		Height:     400,
		Background: chart.Style{FillColor: palette.Background},
		Canvas:     chart.Style{FillColor: palette.Background},
		XAxis: chart.XAxis{
			Name:           "Match",
			ValueFormatter: func(v interface{}) string { return fmt.Sprintf("%.0f", v) },
			Style:          chart.Style{FontColor: palette.TextColor},
			Range:          &chart.ContinuousRange{Min: 0, Max: float64(len(points) + 1)},
		},
		YAxis: chart.YAxis{
			Name:  "Rating",
			Style: chart.Style{FontColor: palette.TextColor},
			Range: &chart.ContinuousRange{Min: math.Max(0, lo-ratingPadding), Max: hi + ratingPadding},
		},
		Series: []chart.Series{series},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderNoDataPlaceholder(palette ChartPalette) ([]byte, error) {
	const msg = "No rated matches yet"

	// go-chart refuses to render without a visible series
	blank := chart.ContinuousSeries{
		XValues: []float64{0, 1},
		YValues: []float64{0, 0},
		Style:   chart.Style{StrokeColor: drawing.ColorTransparent},
	}

	graph := chart.Chart{
		Width:      400,
		Height:     200,
		Background: chart.Style{FillColor: palette.Background},
		Canvas:     chart.Style{FillColor: palette.Background},
		XAxis:      chart.XAxis{Style: chart.Style{Hidden: true}},
		YAxis: chart.YAxis{
			Style: chart.Style{Hidden: true},
			Range: &chart.ContinuousRange{Min: 0, Max: 1},
		},
		Series: []chart.Series{blank},
		Elements: []chart.Renderable{
			func(r chart.Renderer, cb chart.Box, _ chart.Style) {
				r.SetFontColor(palette.TextColor)
				r.SetFontSize(12.0)
				tb := r.MeasureText(msg)
				r.Text(msg, (cb.Width()-tb.Width())/2, (cb.Height()+tb.Height())/2)
			},
		},
	}
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
