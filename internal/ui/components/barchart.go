package components

import (
	"math"

	"github.com/pterm/pterm"

	"github.com/willibrandon/tollgate/internal/traffic"
	"github.com/willibrandon/tollgate/internal/ui/styles"
)

// maxLabelWidth bounds route labels in the bar chart.
const maxLabelWidth = 32

// RenderTopRoutes renders a horizontal bar chart of route request rates.
func RenderTopRoutes(routes []traffic.RouteSummary, width int) (string, error) {
	if len(routes) == 0 {
		return styles.Muted("No route traffic"), nil
	}

	// Colors come from the palette, not pterm.
	pterm.DisableColor()
	defer pterm.EnableColor()

	bars := make(pterm.Bars, 0, len(routes))
	for _, r := range routes {
		bars = append(bars, pterm.Bar{
			Label: truncateLabel(r.RouteID, maxLabelWidth),
			Value: int(math.Round(r.RequestRate)), // pterm bars are integral
		})
	}

	barWidth := width - maxLabelWidth - 15
	if barWidth < 10 {
		barWidth = 10
	}

	return pterm.DefaultBarChart.
		WithBars(bars).
		WithHorizontal().
		WithShowValue().
		WithWidth(barWidth).
		Srender()
}

func truncateLabel(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
