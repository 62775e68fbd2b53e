// Package components renders tollgate data as terminal tables, trees and
// charts.
package components

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/metrics"
	"github.com/willibrandon/tollgate/internal/traffic"
	"github.com/willibrandon/tollgate/internal/ui/styles"
)

// AlertsTable renders alert summaries with ages relative to now.
func AlertsTable(list []alerts.Summary, now time.Time) (string, error) {
	if len(list) == 0 {
		return styles.Muted("No alerts"), nil
	}

	data := pterm.TableData{{"ID", "TYPE", "TARGET", "STATE", "OBSERVED", "THRESHOLD", "TRIGGERED", "RESOLVED"}}
	for _, a := range list {
		resolved := "-"
		if a.ResolvedAt != nil {
			resolved = humanize.RelTime(*a.ResolvedAt, now, "ago", "from now")
		}
		data = append(data, []string{
			a.ID,
			string(a.Type),
			a.TargetID,
			styles.AlertState(a.State),
			FormatValue(a.Observed, a.Unit),
			FormatValue(a.Threshold, a.Unit),
			humanize.RelTime(a.TriggeredAt, now, "ago", "from now"),
			resolved,
		})
	}
	return renderTable(data)
}

// ServicesTable renders managed service registrations.
func ServicesTable(list []traffic.Service, now time.Time) (string, error) {
	if len(list) == 0 {
		return styles.Muted("No managed services"), nil
	}

	data := pterm.TableData{{"ID", "NAME", "REGISTERED"}}
	for _, s := range list {
		data = append(data, []string{s.ID, s.Name, humanize.RelTime(s.RegisteredAt, now, "ago", "from now")})
	}
	return renderTable(data)
}

// CyclesTable renders evaluation cycle records, oldest first.
func CyclesTable(list []metrics.CycleRecord) (string, error) {
	if len(list) == 0 {
		return styles.Muted("No evaluation cycles yet"), nil
	}

	data := pterm.TableData{{"AS OF", "DURATION", "SERVICES", "SKIPPED", "OPENED", "RESOLVED", "SUPPRESSED", "ERROR"}}
	for _, c := range list {
		errText := ""
		if c.Error != "" {
			errText = styles.Critical(c.Error)
		}
		data = append(data, []string{
			c.AsOf.UTC().Format(time.RFC3339),
			c.Duration.Round(time.Microsecond).String(),
			humanize.Comma(int64(c.Services)),
			humanize.Comma(int64(c.Skipped)),
			humanize.Comma(int64(c.Opened)),
			humanize.Comma(int64(c.Resolved)),
			humanize.Comma(int64(c.Suppressed)),
			errText,
		})
	}
	return renderTable(data)
}

// CycleReportTable renders the state changes of one evaluation cycle.
func CycleReportTable(r alerts.CycleReport) (string, error) {
	head := fmt.Sprintf("%s  services=%d evaluated=%d skipped=%d opened=%d resolved=%d suppressed=%d (%s)",
		styles.Accent("cycle "+r.AsOf.UTC().Format(time.RFC3339)),
		r.Services, r.Evaluated, r.Skipped, r.Opened, r.Resolved, r.Suppressed,
		r.Duration.Round(time.Microsecond))
	if r.Failed > 0 {
		head += " " + styles.Critical(fmt.Sprintf("failed=%d", r.Failed))
	}

	if len(r.Changes) == 0 {
		return head + "\n" + styles.Muted("No state changes"), nil
	}

	data := pterm.TableData{{"TARGET", "TYPE", "TRANSITION", "OBSERVED", "THRESHOLD", "ALERT"}}
	for _, c := range r.Changes {
		data = append(data, []string{
			c.TargetID,
			string(c.Type),
			transition(c.Transition),
			FormatValue(c.Observed, ""),
			FormatValue(c.Threshold, ""),
			c.AlertID,
		})
	}
	table, err := renderTable(data)
	if err != nil {
		return "", err
	}
	return head + "\n" + table, nil
}

// FormatValue formats a metric value with at most two decimals.
func FormatValue(v float64, unit string) string {
	s := humanize.FtoaWithDigits(v, 2)
	if unit != "" {
		s += " " + unit
	}
	return s
}

func transition(t alerts.Transition) string {
	switch t {
	case alerts.TransitionOpen:
		return styles.Critical(string(t))
	case alerts.TransitionResolved:
		return styles.Good(string(t))
	default:
		return styles.Muted(string(t))
	}
}

func renderTable(data pterm.TableData) (string, error) {
	return pterm.DefaultTable.
		WithHasHeader().
		WithSeparator("  ").
		WithData(data).
		Srender()
}
