package traffic

import (
	"time"

	"github.com/willibrandon/tollgate/internal/ecode"
)

// Window is one of the fixed query ranges for service metrics.
type Window int

const (
	Window5m Window = iota
	Window1h
	Window24h
)

// Duration returns the time.Duration for the window.
func (w Window) Duration() time.Duration {
	switch w {
	case Window5m:
		return 5 * time.Minute
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// String returns a display label.
func (w Window) String() string {
	switch w {
	case Window5m:
		return "5m"
	case Window1h:
		return "1h"
	case Window24h:
		return "24h"
	default:
		return "5m"
	}
}

// Range returns the half-open interval [asOf-d, asOf).
func (w Window) Range(asOf time.Time) (from, to time.Time) {
	return asOf.Add(-w.Duration()), asOf
}

// ParseWindow parses "5m", "1h" or "24h". An empty string selects 5m.
func ParseWindow(s string) (Window, error) {
	switch s {
	case "", "5m":
		return Window5m, nil
	case "1h":
		return Window1h, nil
	case "24h":
		return Window24h, nil
	default:
		return 0, ecode.New(ecode.InvalidArgument, "traffic.ParseWindow", "window must be one of 5m, 1h, 24h, got %q", s)
	}
}

// AllWindows returns all query windows in order.
func AllWindows() []Window {
	return []Window{Window5m, Window1h, Window24h}
}
