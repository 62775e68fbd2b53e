package alerts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/tollgate/internal/ecode"
)

// Transition labels the state change recorded in a payload or cycle report.
type Transition string

const (
	TransitionOpen       Transition = "OPEN"
	TransitionResolved   Transition = "RESOLVED"
	TransitionSuppressed Transition = "SUPPRESSED"
)

// Payload is the detail snapshot stored with an alert. It is rewritten on
// every transition the evaluator performs.
type Payload struct {
	ServiceID   string     `json:"serviceId"`
	Rule        Type       `json:"rule"`
	Metric      string     `json:"metric"`
	Operator    Operator   `json:"operator"`
	Threshold   float64    `json:"threshold"`
	Observed    float64    `json:"observed"`
	Unit        string     `json:"unit,omitempty"`
	Window      string     `json:"window"`
	Cooldown    string     `json:"cooldown"`
	Transition  Transition `json:"transition"`
	EvaluatedAt time.Time  `json:"evaluatedAt"`
}

// MarshalPayload encodes a payload for storage.
func MarshalPayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, ecode.Wrap(ecode.Internal, "alerts.MarshalPayload", err)
	}
	return data, nil
}

// UnmarshalPayload decodes a stored payload. An empty document yields the
// zero Payload.
func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, ecode.Wrap(ecode.Internal, "alerts.UnmarshalPayload", err)
	}
	return p, nil
}

// Alert is a persisted alert record. Revision is 0 for an alert that has not
// been stored yet and increases on every successful save.
type Alert struct {
	ID          string
	Type        Type
	TargetID    string
	State       State
	TriggeredAt time.Time
	ResolvedAt  *time.Time
	Payload     Payload
	Revision    int64
}

// NewAlert returns an unsaved OPEN alert.
func NewAlert(typ Type, targetID string, triggeredAt time.Time, payload Payload) *Alert {
	return &Alert{
		ID:          uuid.NewString(),
		Type:        typ,
		TargetID:    targetID,
		State:       StateOpen,
		TriggeredAt: triggeredAt.UTC(),
		Payload:     payload,
	}
}

// IsActive reports whether the alert is OPEN or ACKED.
func (a *Alert) IsActive() bool {
	return a.State.IsActive()
}

// Acknowledge moves an OPEN alert to ACKED.
func (a *Alert) Acknowledge() error {
	if a.State != StateOpen {
		return ecode.New(ecode.Conflict, "alerts.Acknowledge",
			"alert %s is %s; must be OPEN to acknowledge", a.ID, a.State)
	}
	a.State = StateAcked
	return nil
}

// Resolve moves an active alert to RESOLVED at t. Resolving an already
// resolved alert is a defect in the caller.
func (a *Alert) Resolve(t time.Time, payload Payload) error {
	if !a.IsActive() {
		return ecode.New(ecode.Internal, "alerts.Resolve",
			"alert %s is %s; only OPEN or ACKED alerts resolve", a.ID, a.State)
	}
	resolvedAt := t.UTC()
	a.State = StateResolved
	a.ResolvedAt = &resolvedAt
	a.Payload = payload
	return nil
}

// InCooldown reports whether a resolved alert still blocks a reopen at t.
// The cooldown ends exactly Cooldown after the resolve.
func (a *Alert) InCooldown(t time.Time) bool {
	if a.State != StateResolved || a.ResolvedAt == nil {
		return false
	}
	return a.ResolvedAt.Add(Cooldown).After(t)
}

// Summary is the externally visible projection of an alert.
type Summary struct {
	ID          string     `json:"id" yaml:"id"`
	Type        Type       `json:"alertType" yaml:"alertType"`
	TargetID    string     `json:"targetId" yaml:"targetId"`
	State       State      `json:"state" yaml:"state"`
	TriggeredAt time.Time  `json:"triggeredAt" yaml:"triggeredAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty" yaml:"resolvedAt,omitempty"`
	Observed    float64    `json:"observed" yaml:"observed"`
	Threshold   float64    `json:"threshold" yaml:"threshold"`
	Unit        string     `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Summary projects the alert for query results.
func (a *Alert) Summary() Summary {
	return Summary{
		ID:          a.ID,
		Type:        a.Type,
		TargetID:    a.TargetID,
		State:       a.State,
		TriggeredAt: a.TriggeredAt,
		ResolvedAt:  a.ResolvedAt,
		Observed:    a.Payload.Observed,
		Threshold:   a.Payload.Threshold,
		Unit:        a.Payload.Unit,
	}
}

// AckResult is returned by a successful acknowledge.
type AckResult struct {
	AlertID string `json:"alertId" yaml:"alertId"`
	State   State  `json:"state" yaml:"state"`
}
