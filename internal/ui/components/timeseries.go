package components

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/willibrandon/tollgate/internal/traffic"
	"github.com/willibrandon/tollgate/internal/ui/styles"
)

// ChartConfig sizes a line chart.
type ChartConfig struct {
	Width   int
	Height  int
	Caption string
	Color   asciigraph.AnsiColor
}

// DefaultChartConfig returns a chart sized for an 80 column terminal.
func DefaultChartConfig() ChartConfig {
	return ChartConfig{Width: 60, Height: 8, Color: asciigraph.Green}
}

// RenderTimeline plots request rate per minute. Fewer than two points
// cannot form a line and render a placeholder.
func RenderTimeline(points []traffic.MinutePoint, config ChartConfig) string {
	data := make([]float64, len(points))
	for i, p := range points {
		data[i] = p.RequestRate
	}
	if config.Caption == "" && len(points) > 0 {
		config.Caption = fmt.Sprintf("requests/s per minute, %s .. %s",
			points[0].Minute.Format("15:04"), points[len(points)-1].Minute.Format("15:04"))
	}
	return RenderSeries(data, config)
}

// RenderSeries plots an arbitrary series, downsampling it to the chart
// width by averaging.
func RenderSeries(data []float64, config ChartConfig) string {
	if len(data) < 2 {
		return styles.Muted(fmt.Sprintf("Not enough data to plot (%d points)", len(data)))
	}

	width := config.Width
	if width < 20 {
		width = 20
	}
	height := config.Height
	if height < 2 {
		height = 2
	}

	opts := []asciigraph.Option{
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.LowerBound(0),
	}
	if config.Caption != "" {
		opts = append(opts, asciigraph.Caption(config.Caption))
	}
	if config.Color != asciigraph.Default {
		opts = append(opts, asciigraph.SeriesColors(config.Color))
	}

	graph := asciigraph.Plot(resample(data, width), opts...)
	return strings.TrimRight(graph, "\n")
}

// resample averages data into at most width buckets.
func resample(data []float64, width int) []float64 {
	if len(data) <= width {
		return data
	}

	out := make([]float64, width)
	ratio := float64(len(data)) / float64(width)
	for i := range out {
		start := int(float64(i) * ratio)
		end := int(float64(i+1) * ratio)
		if end > len(data) {
			end = len(data)
		}
		if end <= start {
			end = start + 1
		}
		var sum float64
		for _, v := range data[start:end] {
			sum += v
		}
		out[i] = sum / float64(end-start)
	}
	return out
}
