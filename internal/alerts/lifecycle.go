package alerts

import (
	"context"
	"errors"
	"strings"

	"github.com/willibrandon/tollgate/internal/ecode"
	"github.com/willibrandon/tollgate/internal/logger"
)

// Query selects alerts for listing. Zero-valued filters match everything; a
// nil Limit selects DefaultQueryLimit.
type Query struct {
	State    State
	TargetID string
	Type     Type
	Limit    *int
}

// Lifecycle exposes the operator-facing alert operations.
type Lifecycle struct {
	store Store
}

// NewLifecycle creates a lifecycle service over store.
func NewLifecycle(store Store) *Lifecycle {
	return &Lifecycle{store: store}
}

// Acknowledge moves an OPEN alert to ACKED.
func (l *Lifecycle) Acknowledge(ctx context.Context, alertID string) (AckResult, error) {
	const op = "alerts.Acknowledge"

	if strings.TrimSpace(alertID) == "" {
		return AckResult{}, ecode.New(ecode.InvalidArgument, op, "%s", ecode.FieldIsRequired("alertId"))
	}

	alert, err := l.store.FindAlertByID(ctx, alertID)
	if err != nil {
		return AckResult{}, internal(op, err)
	}
	if alert == nil {
		return AckResult{}, ecode.New(ecode.NotFound, op, "alert %s not found", alertID)
	}

	if err := alert.Acknowledge(); err != nil {
		return AckResult{}, err
	}

	if _, err := l.store.SaveAlert(ctx, alert); err != nil {
		if errors.Is(err, ecode.ErrConflict) {
			return AckResult{}, ecode.New(ecode.Conflict, op, "alert %s changed concurrently; must be OPEN to acknowledge", alertID)
		}
		return AckResult{}, internal(op, err)
	}

	logger.Info("alert acknowledged", "alert_id", alert.ID, "service", alert.TargetID, "rule", alert.Type)
	return AckResult{AlertID: alert.ID, State: alert.State}, nil
}

// Query lists alerts matching q, newest first. Filters are validated before
// the store is touched.
func (l *Lifecycle) Query(ctx context.Context, q Query) ([]Summary, error) {
	const op = "alerts.Query"

	filter, err := q.Filter()
	if err != nil {
		return nil, err
	}

	alerts, err := l.store.FindRecentAlerts(ctx, filter)
	if err != nil {
		return nil, internal(op, err)
	}

	out := make([]Summary, 0, len(alerts))
	for i := range alerts {
		out = append(out, alerts[i].Summary())
	}
	return out, nil
}

// Filter validates the query and converts it to a store filter.
func (q Query) Filter() (Filter, error) {
	const op = "alerts.Query"

	limit := DefaultQueryLimit
	if q.Limit != nil {
		limit = *q.Limit
	}
	if limit < 1 || limit > MaxQueryLimit {
		return Filter{}, ecode.New(ecode.InvalidArgument, op, "limit must be between 1 and %d, got %d", MaxQueryLimit, limit)
	}
	if q.State != "" && !q.State.IsValid() {
		return Filter{}, ecode.New(ecode.InvalidArgument, op, "%s", ecode.FieldIsInvalid("state"))
	}
	if q.Type != "" && !q.Type.IsValid() {
		return Filter{}, ecode.New(ecode.InvalidArgument, op, "%s", ecode.FieldIsInvalid("alertType"))
	}

	return Filter{
		State:    q.State,
		TargetID: q.TargetID,
		Type:     q.Type,
		Limit:    limit,
	}, nil
}

// internal keeps coded store errors and classifies the rest as Internal.
func internal(op string, err error) error {
	var coded *ecode.Error
	if errors.As(err, &coded) {
		return err
	}
	return ecode.Wrap(ecode.Internal, op, err)
}
