package components

import (
	"fmt"
	"time"

	"github.com/xlab/treeprint"

	"github.com/willibrandon/tollgate/internal/report"
	"github.com/willibrandon/tollgate/internal/traffic"
	"github.com/willibrandon/tollgate/internal/ui/styles"
)

// RenderReport renders a service metrics report as a tree: the service
// summary, then one branch per route and per consumer.
func RenderReport(r *report.Report) string {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s  %s  %s .. %s",
		styles.Accent(r.ServiceID),
		r.Window,
		r.From.UTC().Format(time.RFC3339),
		r.AsOf.UTC().Format(time.RFC3339)))

	source := r.Source
	if r.Derived {
		source += " (derived)"
	}
	svc := tree.AddMetaBranch("service", fmt.Sprintf("%d samples, source %s", r.SampleCount, source))
	addSummary(svc, r.Service)

	if len(r.TopRoutes) > 0 {
		top := tree.AddBranch("top routes")
		for i, rt := range r.TopRoutes {
			top.AddMetaNode(i+1, fmt.Sprintf("%s  %s req/s  5xx %s%%",
				rt.RouteID, FormatValue(rt.RequestRate, ""), FormatValue(rt.ErrorRate5xx, "")))
		}
	}

	if len(r.PerRoute) > 0 {
		routes := tree.AddBranch("routes")
		for _, rt := range r.PerRoute {
			addSummary(routes.AddBranch(rt.RouteID), rt.Summary)
		}
	}

	if len(r.PerConsumer) > 0 {
		consumers := tree.AddBranch("consumers")
		for _, c := range r.PerConsumer {
			addSummary(consumers.AddBranch(c.ConsumerID), c.Summary)
		}
	}

	return tree.String()
}

func addSummary(branch treeprint.Tree, s traffic.Summary) {
	branch.AddMetaNode("requestRate", FormatValue(s.RequestRate, "req/s"))
	branch.AddMetaNode("latencyP50", FormatValue(s.LatencyP50, "ms"))
	branch.AddMetaNode("latencyP95", FormatValue(s.LatencyP95, "ms"))
	branch.AddMetaNode("errorRate4xx", FormatValue(s.ErrorRate4xx, "%"))
	branch.AddMetaNode("errorRate5xx", FormatValue(s.ErrorRate5xx, "%"))
}
