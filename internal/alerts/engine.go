package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/willibrandon/tollgate/internal/ecode"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/traffic"
)

// DefaultConcurrency bounds how many services one cycle evaluates at once.
const DefaultConcurrency = 4

// TimestampPrecision is the finest resolution every store keeps. Evaluation
// times are truncated to it so a stored resolvedAt compares exactly against
// later cycles.
const TimestampPrecision = time.Microsecond

// StateChange records one transition performed during a cycle.
type StateChange struct {
	AlertID    string     `json:"alertId,omitempty" yaml:"alertId,omitempty"`
	TargetID   string     `json:"targetId" yaml:"targetId"`
	Type       Type       `json:"alertType" yaml:"alertType"`
	Transition Transition `json:"transition" yaml:"transition"`
	Observed   float64    `json:"observed" yaml:"observed"`
	Threshold  float64    `json:"threshold" yaml:"threshold"`
	At         time.Time  `json:"at" yaml:"at"`
}

// CycleReport summarizes one evaluation cycle.
type CycleReport struct {
	AsOf       time.Time     `json:"asOf" yaml:"asOf"`
	Services   int           `json:"services" yaml:"services"`
	Evaluated  int           `json:"evaluated" yaml:"evaluated"`
	Skipped    int           `json:"skipped" yaml:"skipped"`
	Failed     int           `json:"failed" yaml:"failed"`
	Opened     int           `json:"opened" yaml:"opened"`
	Resolved   int           `json:"resolved" yaml:"resolved"`
	Suppressed int           `json:"suppressed" yaml:"suppressed"`
	Changes    []StateChange `json:"changes" yaml:"changes"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

func (r *CycleReport) record(c StateChange) {
	switch c.Transition {
	case TransitionOpen:
		r.Opened++
	case TransitionResolved:
		r.Resolved++
	case TransitionSuppressed:
		r.Suppressed++
	}
	r.Changes = append(r.Changes, c)
}

// Evaluator runs the threshold rules against every managed service and drives
// alert transitions through the store.
type Evaluator struct {
	store    Store
	samples  SampleSource
	services ServiceLister

	mu          sync.RWMutex
	rules       []Rule
	clock       Clock
	concurrency int
}

// NewEvaluator creates an evaluator using the default rules and system clock.
func NewEvaluator(store Store, samples SampleSource, services ServiceLister) *Evaluator {
	return &Evaluator{
		store:       store,
		samples:     samples,
		services:    services,
		rules:       DefaultRules(),
		clock:       SystemClock{},
		concurrency: DefaultConcurrency,
	}
}

// SetClock replaces the clock used by Evaluate.
func (e *Evaluator) SetClock(c Clock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = c
}

// SetRules replaces the rule list.
func (e *Evaluator) SetRules(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]Rule(nil), rules...)
}

// SetConcurrency sets how many services are evaluated in parallel.
func (e *Evaluator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.concurrency = n
}

// Rules returns the rules in evaluation order.
func (e *Evaluator) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs a cycle at the clock's current time.
func (e *Evaluator) Evaluate(ctx context.Context) (CycleReport, error) {
	e.mu.RLock()
	now := e.clock.Now()
	e.mu.RUnlock()
	return e.EvaluateAt(ctx, now)
}

// EvaluateAt runs a cycle as of asOf. Services are independent: a failure on
// one is logged and joined into the returned error while the rest complete.
// Conflicts from concurrent writers are left for the next cycle.
func (e *Evaluator) EvaluateAt(ctx context.Context, asOf time.Time) (CycleReport, error) {
	start := time.Now()
	asOf = asOf.UTC().Truncate(TimestampPrecision)
	report := CycleReport{AsOf: asOf}

	services, err := e.services.FindAllManagedServices(ctx)
	if err != nil {
		return report, ecode.Wrap(ecode.Internal, "alerts.Evaluate", fmt.Errorf("list managed services: %w", err))
	}
	report.Services = len(services)

	e.mu.RLock()
	rules := e.rules
	limit := e.concurrency
	e.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			changes, evaluated, err := e.evaluateService(gctx, svc, rules, asOf)

			mu.Lock()
			defer mu.Unlock()
			if evaluated {
				report.Evaluated++
			} else if err == nil {
				report.Skipped++
			}
			for _, c := range changes {
				report.record(c)
			}
			if err != nil {
				logger.Error("service evaluation failed", "service", svc, "error", err)
				report.Failed++
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	logger.Debug("evaluation cycle complete",
		"as_of", asOf,
		"services", report.Services,
		"skipped", report.Skipped,
		"opened", report.Opened,
		"resolved", report.Resolved,
		"suppressed", report.Suppressed,
		"duration", report.Duration)

	return report, errors.Join(errs...)
}

func (e *Evaluator) evaluateService(ctx context.Context, serviceID string, rules []Rule, asOf time.Time) ([]StateChange, bool, error) {
	samples, err := e.samples.FindSamplesByServiceAndWindow(ctx, serviceID, asOf.Add(-EvaluationWindow), asOf)
	if err != nil {
		return nil, false, fmt.Errorf("service %s: load samples: %w", serviceID, err)
	}

	svcSamples := traffic.ServiceOnly(samples)
	if len(svcSamples) == 0 {
		logger.Debug("no service samples in window, skipping", "service", serviceID)
		return nil, false, nil
	}
	summary := traffic.Aggregate(svcSamples)

	var (
		changes []StateChange
		errs    []error
	)
	for _, rule := range rules {
		observed, err := rule.Observe(summary)
		if err != nil {
			logger.Warn("rule observation failed", "service", serviceID, "rule", rule.Type, "error", err)
			continue
		}

		change, err := e.apply(ctx, serviceID, rule, observed, asOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("service %s rule %s: %w", serviceID, rule.Type, err))
			continue
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}
	return changes, true, errors.Join(errs...)
}

// apply performs at most one transition for (target, rule).
func (e *Evaluator) apply(ctx context.Context, targetID string, rule Rule, observed float64, asOf time.Time) (*StateChange, error) {
	active, err := e.store.FindActiveAlert(ctx, targetID, rule.Type)
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}

	change := &StateChange{
		TargetID:  targetID,
		Type:      rule.Type,
		Observed:  observed,
		Threshold: rule.Threshold,
		At:        asOf,
	}

	if rule.Breached(observed) {
		if active != nil {
			return nil, nil
		}

		latest, err := e.store.FindLatestAlert(ctx, targetID, rule.Type)
		if err != nil {
			return nil, fmt.Errorf("find latest alert: %w", err)
		}
		if latest != nil && latest.InCooldown(asOf) {
			logger.Debug("alert suppressed by cooldown",
				"service", targetID,
				"rule", rule.Type,
				"resolved_at", latest.ResolvedAt,
				"observed", observed)
			change.AlertID = latest.ID
			change.Transition = TransitionSuppressed
			return change, nil
		}

		alert := NewAlert(rule.Type, targetID, asOf, newPayload(targetID, rule, observed, TransitionOpen, asOf))
		if _, err := e.store.SaveAlert(ctx, alert); err != nil {
			if errors.Is(err, ecode.ErrConflict) {
				logger.Warn("alert already opened by another writer", "service", targetID, "rule", rule.Type)
				return nil, nil
			}
			return nil, fmt.Errorf("open alert: %w", err)
		}

		logger.Info("alert opened",
			"alert_id", alert.ID,
			"service", targetID,
			"rule", rule.Type,
			"observed", observed,
			"threshold", rule.Threshold)
		change.AlertID = alert.ID
		change.Transition = TransitionOpen
		return change, nil
	}

	if active == nil {
		return nil, nil
	}

	if err := active.Resolve(asOf, newPayload(targetID, rule, observed, TransitionResolved, asOf)); err != nil {
		return nil, err
	}
	if _, err := e.store.SaveAlert(ctx, active); err != nil {
		if errors.Is(err, ecode.ErrConflict) {
			logger.Warn("alert changed during resolve, retrying next cycle", "alert_id", active.ID)
			return nil, nil
		}
		return nil, fmt.Errorf("resolve alert: %w", err)
	}

	logger.Info("alert resolved",
		"alert_id", active.ID,
		"service", targetID,
		"rule", rule.Type,
		"observed", observed)
	change.AlertID = active.ID
	change.Transition = TransitionResolved
	return change, nil
}

func newPayload(serviceID string, rule Rule, observed float64, t Transition, asOf time.Time) Payload {
	return Payload{
		ServiceID:   serviceID,
		Rule:        rule.Type,
		Metric:      rule.Metric,
		Operator:    rule.Operator,
		Threshold:   rule.Threshold,
		Observed:    observed,
		Unit:        rule.Unit,
		Window:      EvaluationWindow.String(),
		Cooldown:    Cooldown.String(),
		Transition:  t,
		EvaluatedAt: asOf,
	}
}
