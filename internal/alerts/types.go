// Package alerts evaluates service traffic against threshold rules and tracks
// the resulting alerts through OPEN, ACKED and RESOLVED.
package alerts

import (
	"time"

	"github.com/willibrandon/tollgate/internal/ecode"
)

const (
	// EvaluationWindow is how far back each cycle looks for service samples.
	EvaluationWindow = 5 * time.Minute
	// Cooldown is the quiet period after a resolve during which the same
	// (target, type) pair may not reopen.
	Cooldown = 10 * time.Minute
)

// State is the lifecycle state of an alert.
type State string

const (
	StateOpen     State = "OPEN"
	StateAcked    State = "ACKED"
	StateResolved State = "RESOLVED"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsActive returns true for OPEN and ACKED.
func (s State) IsActive() bool {
	return s == StateOpen || s == StateAcked
}

// IsValid returns true if the state is a recognized state.
func (s State) IsValid() bool {
	switch s {
	case StateOpen, StateAcked, StateResolved:
		return true
	default:
		return false
	}
}

// ParseState converts a string to a State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", ecode.New(ecode.InvalidArgument, "alerts.ParseState", "state must be one of OPEN, ACKED, RESOLVED, got %q", s)
	}
	return st, nil
}

// Type identifies the rule that raised an alert.
type Type string

const (
	TypeErrorRateHigh Type = "service-error-rate-high"
	TypeLatencyHigh   Type = "service-latency-high"
)

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if a rule of this type exists.
func (t Type) IsValid() bool {
	switch t {
	case TypeErrorRateHigh, TypeLatencyHigh:
		return true
	default:
		return false
	}
}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.IsValid() {
		return "", ecode.New(ecode.InvalidArgument, "alerts.ParseType", "alertType %q is not a known rule", s)
	}
	return t, nil
}

// Operator defines comparison operators for rule thresholds.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
)

// String returns the string representation of the operator.
func (o Operator) String() string {
	return string(o)
}

// Compare reports whether value breaches threshold under the operator.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return value > threshold
	case OpLessThan:
		return value < threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}

// IsValid returns true if the operator is a recognized operator.
func (o Operator) IsValid() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		return true
	default:
		return false
	}
}
