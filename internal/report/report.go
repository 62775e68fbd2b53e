// Package report builds the service metrics view over stored samples.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/ecode"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/traffic"
)

// TopRoutesLimit is the number of routes in the top-routes list.
const TopRoutesLimit = 5

// Report is the service metrics view for one window.
type Report struct {
	ServiceID   string                    `json:"serviceId" yaml:"serviceId"`
	Window      string                    `json:"window" yaml:"window"`
	From        time.Time                 `json:"from" yaml:"from"`
	AsOf        time.Time                 `json:"asOf" yaml:"asOf"`
	Service     traffic.Summary           `json:"service" yaml:"service"`
	Source      string                    `json:"source" yaml:"source"`
	Derived     bool                      `json:"derived" yaml:"derived"`
	SampleCount int                       `json:"sampleCount" yaml:"sampleCount"`
	PerRoute    []traffic.RouteSummary    `json:"perRoute" yaml:"perRoute"`
	PerConsumer []traffic.ConsumerSummary `json:"perConsumer" yaml:"perConsumer"`
	TopRoutes   []traffic.RouteSummary    `json:"topRoutes" yaml:"topRoutes"`
	Timeline    []traffic.MinutePoint     `json:"timeline" yaml:"timeline"`
}

// Cache stores built reports. Implementations must tolerate being
// unavailable: a miss is always a safe answer.
type Cache interface {
	Get(ctx context.Context, key string) (*Report, bool)
	Set(ctx context.Context, key string, r *Report)
}

// Builder answers service metrics queries.
type Builder struct {
	samples alerts.SampleSource
	clock   alerts.Clock
	cache   Cache
}

// NewBuilder creates a builder. cache may be nil.
func NewBuilder(samples alerts.SampleSource, clock alerts.Clock, cache Cache) *Builder {
	if clock == nil {
		clock = alerts.SystemClock{}
	}
	return &Builder{samples: samples, clock: clock, cache: cache}
}

// CacheKey identifies a report by service, window and minute.
func CacheKey(serviceID string, w traffic.Window, asOf time.Time) string {
	return fmt.Sprintf("tollgate:metrics:%s:%s:%d", serviceID, w, traffic.TruncateMinute(asOf).Unix())
}

// QueryServiceMetrics aggregates the service's samples over [now-window, now).
// The service-level summary uses service-axis samples when present and
// otherwise falls back to route, then consumer samples, marking the report
// as derived.
func (b *Builder) QueryServiceMetrics(ctx context.Context, serviceID, window string) (*Report, error) {
	const op = "report.QueryServiceMetrics"

	if strings.TrimSpace(serviceID) == "" {
		return nil, ecode.New(ecode.InvalidArgument, op, "%s", ecode.FieldIsRequired("serviceId"))
	}
	w, err := traffic.ParseWindow(window)
	if err != nil {
		return nil, err
	}

	asOf := b.clock.Now().UTC()
	key := CacheKey(serviceID, w, asOf)
	if b.cache != nil {
		if r, ok := b.cache.Get(ctx, key); ok {
			logger.Debug("service metrics cache hit", "service", serviceID, "window", w)
			return r, nil
		}
	}

	from, to := w.Range(asOf)
	samples, err := b.samples.FindSamplesByServiceAndWindow(ctx, serviceID, from, to)
	if err != nil {
		return nil, ecode.Wrap(ecode.Internal, op, err)
	}

	r := Build(serviceID, w, asOf, samples)
	if b.cache != nil {
		b.cache.Set(ctx, key, r)
	}
	return r, nil
}

// Build assembles a report from already loaded samples.
func Build(serviceID string, w traffic.Window, asOf time.Time, samples []traffic.Sample) *Report {
	split := traffic.GroupByAxis(samples)
	source, kind := traffic.ResolveServiceAxis(split.Service, split.Route, split.Consumer)
	routes := split.RouteSummaries()
	from, _ := w.Range(asOf)

	return &Report{
		ServiceID:   serviceID,
		Window:      w.String(),
		From:        from,
		AsOf:        asOf,
		Service:     traffic.Aggregate(source),
		Source:      kind.String(),
		Derived:     kind != traffic.AxisService,
		SampleCount: len(samples),
		PerRoute:    routes,
		PerConsumer: split.ConsumerSummaries(),
		TopRoutes:   traffic.TopRoutes(routes, TopRoutesLimit),
		Timeline:    traffic.Timeline(source),
	}
}
