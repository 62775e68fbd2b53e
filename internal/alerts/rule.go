package alerts

import (
	"fmt"

	"github.com/willibrandon/tollgate/internal/traffic"
)

// Rule is a fixed threshold check applied to every managed service's
// service-axis summary. Rules are evaluated in list order.
type Rule struct {
	// Type is the alert type raised when the rule breaches.
	Type Type

	// Metric is the expression over summary fields (e.g. "error_rate_5xx").
	Metric string

	Operator  Operator
	Threshold float64
	Unit      string

	expr Expression
}

// NewRule validates and compiles a rule.
func NewRule(typ Type, metric string, op Operator, threshold float64, unit string) (Rule, error) {
	if typ == "" {
		return Rule{}, fmt.Errorf("rule type is required")
	}
	if !op.IsValid() {
		return Rule{}, fmt.Errorf("rule %q: invalid operator %q", typ, op)
	}
	expr, err := CompileExpression(metric)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: metric %q: %w", typ, metric, err)
	}
	return Rule{
		Type:      typ,
		Metric:    metric,
		Operator:  op,
		Threshold: threshold,
		Unit:      unit,
		expr:      expr,
	}, nil
}

// MustRule is like NewRule but panics on error.
func MustRule(typ Type, metric string, op Operator, threshold float64, unit string) Rule {
	r, err := NewRule(typ, metric, op, threshold, unit)
	if err != nil {
		panic(err)
	}
	return r
}

// Observe extracts the rule's observed value from a summary.
func (r Rule) Observe(s traffic.Summary) (float64, error) {
	if r.expr == nil {
		return 0, fmt.Errorf("rule %q was not compiled", r.Type)
	}
	return r.expr.Eval(s)
}

// Breached reports whether value crosses the threshold. Equality with a
// strict operator does not breach.
func (r Rule) Breached(value float64) bool {
	return r.Operator.Compare(value, r.Threshold)
}

var defaultRules = []Rule{
	MustRule(TypeErrorRateHigh, "error_rate_5xx", OpGreaterThan, 2.0, "percent"),
	MustRule(TypeLatencyHigh, "latency_p95", OpGreaterThan, 800, "ms"),
}

// DefaultRules returns the built-in rule list in evaluation order.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}
