package traffic

import (
	"sort"
	"time"
)

// Summary is the statistical rollup of a set of same-axis samples.
type Summary struct {
	RequestRate  float64 `json:"requestRate" yaml:"requestRate"`
	ErrorRate4xx float64 `json:"errorRate4xx" yaml:"errorRate4xx"`
	ErrorRate5xx float64 `json:"errorRate5xx" yaml:"errorRate5xx"`
	LatencyP50   float64 `json:"latencyP50" yaml:"latencyP50"`
	LatencyP95   float64 `json:"latencyP95" yaml:"latencyP95"`
}

// Aggregate summarizes samples. RequestRate is the arithmetic mean; every
// other field is weighted by request rate, falling back to the plain mean when
// the total weight is not positive. An empty set yields the zero Summary.
func Aggregate(samples []Sample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	n := float64(len(samples))
	var (
		rateSum                      float64
		p50, p95, e4, e5             float64 // weighted sums
		p50Raw, p95Raw, e4Raw, e5Raw float64 // unweighted sums
	)

	for _, s := range samples {
		w := s.RequestRate
		rateSum += w

		p50 += s.LatencyP50 * w
		p95 += s.LatencyP95 * w
		e4 += s.ErrorRate4xx * w
		e5 += s.ErrorRate5xx * w

		p50Raw += s.LatencyP50
		p95Raw += s.LatencyP95
		e4Raw += s.ErrorRate4xx
		e5Raw += s.ErrorRate5xx
	}

	summary := Summary{RequestRate: rateSum / n}
	if rateSum > 0 {
		summary.LatencyP50 = p50 / rateSum
		summary.LatencyP95 = p95 / rateSum
		summary.ErrorRate4xx = e4 / rateSum
		summary.ErrorRate5xx = e5 / rateSum
	} else {
		summary.LatencyP50 = p50Raw / n
		summary.LatencyP95 = p95Raw / n
		summary.ErrorRate4xx = e4Raw / n
		summary.ErrorRate5xx = e5Raw / n
	}
	return summary
}

// RouteSummary is the rollup of one route's samples.
type RouteSummary struct {
	RouteID string `json:"routeId" yaml:"routeId"`
	Summary `yaml:",inline"`
}

// ConsumerSummary is the rollup of one consumer's samples.
type ConsumerSummary struct {
	ConsumerID string `json:"consumerId" yaml:"consumerId"`
	Summary    `yaml:",inline"`
}

// TopRoutes returns up to n routes ordered by request rate desc, then 5xx
// error rate desc, then route id asc. The input slice is not modified.
func TopRoutes(routes []RouteSummary, n int) []RouteSummary {
	if n <= 0 || len(routes) == 0 {
		return []RouteSummary{}
	}

	ranked := make([]RouteSummary, len(routes))
	copy(ranked, routes)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RequestRate != b.RequestRate {
			return a.RequestRate > b.RequestRate
		}
		if a.ErrorRate5xx != b.ErrorRate5xx {
			return a.ErrorRate5xx > b.ErrorRate5xx
		}
		return a.RouteID < b.RouteID
	})

	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// AxisSplit partitions a mixed sample set by axis.
type AxisSplit struct {
	Service   []Sample
	Route     []Sample
	Consumer  []Sample
	Routes    map[string][]Sample
	Consumers map[string][]Sample
}

// GroupByAxis splits samples into service, route and consumer sets.
func GroupByAxis(samples []Sample) AxisSplit {
	split := AxisSplit{
		Routes:    make(map[string][]Sample),
		Consumers: make(map[string][]Sample),
	}
	for _, s := range samples {
		switch s.Axis.Kind() {
		case AxisService:
			split.Service = append(split.Service, s)
		case AxisRoute:
			split.Route = append(split.Route, s)
			split.Routes[s.Axis.ID()] = append(split.Routes[s.Axis.ID()], s)
		case AxisConsumer:
			split.Consumer = append(split.Consumer, s)
			split.Consumers[s.Axis.ID()] = append(split.Consumers[s.Axis.ID()], s)
		}
	}
	return split
}

// ServiceOnly keeps the service-axis samples.
func ServiceOnly(samples []Sample) []Sample {
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Axis.Kind() == AxisService {
			out = append(out, s)
		}
	}
	return out
}

// RouteSummaries aggregates each route group, ordered by route id.
func (s AxisSplit) RouteSummaries() []RouteSummary {
	ids := sortedKeys(s.Routes)
	out := make([]RouteSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, RouteSummary{RouteID: id, Summary: Aggregate(s.Routes[id])})
	}
	return out
}

// ConsumerSummaries aggregates each consumer group, ordered by consumer id.
func (s AxisSplit) ConsumerSummaries() []ConsumerSummary {
	ids := sortedKeys(s.Consumers)
	out := make([]ConsumerSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, ConsumerSummary{ConsumerID: id, Summary: Aggregate(s.Consumers[id])})
	}
	return out
}

// ResolveServiceAxis picks the source for a service-level summary: service
// samples when present, else route samples, else consumer samples. The
// returned kind says which axis was used.
func ResolveServiceAxis(service, route, consumer []Sample) ([]Sample, AxisKind) {
	switch {
	case len(service) > 0:
		return service, AxisService
	case len(route) > 0:
		return route, AxisRoute
	case len(consumer) > 0:
		return consumer, AxisConsumer
	default:
		return nil, AxisService
	}
}

// MinutePoint is the request rate observed in one minute.
type MinutePoint struct {
	Minute      time.Time `json:"minute" yaml:"minute"`
	RequestRate float64   `json:"requestRate" yaml:"requestRate"`
}

// Timeline sums request rate per minute, ascending. Route or consumer samples
// of the same minute add up to the service total.
func Timeline(samples []Sample) []MinutePoint {
	byMinute := make(map[int64]float64)
	for _, s := range samples {
		byMinute[s.WindowStart.Unix()] += s.RequestRate
	}

	points := make([]MinutePoint, 0, len(byMinute))
	for m, r := range byMinute {
		points = append(points, MinutePoint{Minute: time.Unix(m, 0).UTC(), RequestRate: r})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Minute.Before(points[j].Minute)
	})
	return points
}

func sortedKeys(m map[string][]Sample) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
