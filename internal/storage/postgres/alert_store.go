package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/ecode"
)

const alertColumns = `id, alert_type, target_id, state, triggered_at, resolved_at, payload, revision`

// AlertStore provides PostgreSQL persistence for alerts.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// SaveAlert inserts a new alert (Revision 0) or updates a stored one if its
// revision still matches.
func (s *AlertStore) SaveAlert(ctx context.Context, a *alerts.Alert) (*alerts.Alert, error) {
	payload, err := alerts.MarshalPayload(a.Payload)
	if err != nil {
		return nil, err
	}

	var resolvedAt *time.Time
	if a.ResolvedAt != nil {
		t := a.ResolvedAt.UTC()
		resolvedAt = &t
	}

	if a.Revision == 0 {
		_, err := s.db.pool.Exec(ctx, `
			INSERT INTO alerts (id, alert_type, target_id, state, triggered_at, resolved_at, payload, revision)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		`, a.ID, string(a.Type), a.TargetID, string(a.State), a.TriggeredAt.UTC(), resolvedAt, payload)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ecode.New(ecode.Conflict, "postgres.SaveAlert",
					"active %s alert already exists for %s", a.Type, a.TargetID)
			}
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}
		a.Revision = 1
		return a, nil
	}

	tag, err := s.db.pool.Exec(ctx, `
		UPDATE alerts
		SET state = $1, resolved_at = $2, payload = $3, revision = revision + 1
		WHERE id = $4 AND revision = $5
	`, string(a.State), resolvedAt, payload, a.ID, a.Revision)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ecode.New(ecode.Conflict, "postgres.SaveAlert",
				"active %s alert already exists for %s", a.Type, a.TargetID)
		}
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ecode.New(ecode.Conflict, "postgres.SaveAlert",
			"alert %s was modified concurrently (revision %d)", a.ID, a.Revision)
	}

	a.Revision++
	return a, nil
}

// FindActiveAlert returns the OPEN or ACKED alert for target and type.
func (s *AlertStore) FindActiveAlert(ctx context.Context, targetID string, typ alerts.Type) (*alerts.Alert, error) {
	return s.queryOne(ctx, `SELECT `+alertColumns+`
		FROM alerts
		WHERE target_id = $1 AND alert_type = $2 AND state IN ('OPEN', 'ACKED')
		LIMIT 1`, targetID, string(typ))
}

// FindLatestAlert returns the most recently triggered alert for target and type.
func (s *AlertStore) FindLatestAlert(ctx context.Context, targetID string, typ alerts.Type) (*alerts.Alert, error) {
	return s.queryOne(ctx, `SELECT `+alertColumns+`
		FROM alerts
		WHERE target_id = $1 AND alert_type = $2
		ORDER BY triggered_at DESC, id ASC
		LIMIT 1`, targetID, string(typ))
}

// FindAlertByID returns the alert with id, or nil.
func (s *AlertStore) FindAlertByID(ctx context.Context, id string) (*alerts.Alert, error) {
	return s.queryOne(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
}

// FindRecentAlerts returns alerts matching the filter, newest first.
func (s *AlertStore) FindRecentAlerts(ctx context.Context, f alerts.Filter) ([]alerts.Alert, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	if f.TargetID != "" {
		add("target_id = $%d", f.TargetID)
	}
	if f.Type != "" {
		add("alert_type = $%d", string(f.Type))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (alerts.Alert, error) {
		a, err := scanAlert(row)
		if err != nil {
			return alerts.Alert{}, err
		}
		return *a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan alerts: %w", err)
	}
	return out, nil
}

func (s *AlertStore) queryOne(ctx context.Context, query string, args ...any) (*alerts.Alert, error) {
	a, err := scanAlert(s.db.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return a, nil
}

func scanAlert(row pgx.Row) (*alerts.Alert, error) {
	var (
		a          alerts.Alert
		typ, state string
		resolvedAt *time.Time
		payload    []byte
	)
	if err := row.Scan(&a.ID, &typ, &a.TargetID, &state, &a.TriggeredAt, &resolvedAt, &payload, &a.Revision); err != nil {
		return nil, err
	}

	a.Type = alerts.Type(typ)
	a.State = alerts.State(state)
	a.TriggeredAt = a.TriggeredAt.UTC()
	if resolvedAt != nil {
		t := resolvedAt.UTC()
		a.ResolvedAt = &t
	}

	var err error
	if a.Payload, err = alerts.UnmarshalPayload(payload); err != nil {
		return nil, err
	}
	return &a, nil
}
