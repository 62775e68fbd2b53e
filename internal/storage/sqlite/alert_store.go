package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/ecode"
)

const alertColumns = `id, alert_type, target_id, state, triggered_at, resolved_at, payload, revision`

// AlertStore provides SQLite persistence for alerts.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// SaveAlert inserts a new alert (Revision 0) or updates a stored one if its
// revision still matches. A stale revision or a second active alert for the
// same target and type yields a Conflict error.
func (s *AlertStore) SaveAlert(ctx context.Context, a *alerts.Alert) (*alerts.Alert, error) {
	payload, err := alerts.MarshalPayload(a.Payload)
	if err != nil {
		return nil, err
	}

	var resolvedAt any
	if a.ResolvedAt != nil {
		resolvedAt = formatTime(*a.ResolvedAt)
	}

	if a.Revision == 0 {
		query := `
			INSERT INTO alerts (id, alert_type, target_id, state, triggered_at, resolved_at, payload, revision)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		`
		_, err := s.db.conn.ExecContext(ctx, query,
			a.ID, string(a.Type), a.TargetID, string(a.State),
			formatTime(a.TriggeredAt), resolvedAt, string(payload))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ecode.New(ecode.Conflict, "sqlite.SaveAlert",
					"active %s alert already exists for %s", a.Type, a.TargetID)
			}
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}
		a.Revision = 1
		return a, nil
	}

	query := `
		UPDATE alerts
		SET state = ?, resolved_at = ?, payload = ?, revision = revision + 1
		WHERE id = ? AND revision = ?
	`
	result, err := s.db.conn.ExecContext(ctx, query,
		string(a.State), resolvedAt, string(payload), a.ID, a.Revision)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ecode.New(ecode.Conflict, "sqlite.SaveAlert",
				"active %s alert already exists for %s", a.Type, a.TargetID)
		}
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return nil, ecode.New(ecode.Conflict, "sqlite.SaveAlert",
			"alert %s was modified concurrently (revision %d)", a.ID, a.Revision)
	}

	a.Revision++
	return a, nil
}

// FindActiveAlert returns the OPEN or ACKED alert for target and type.
func (s *AlertStore) FindActiveAlert(ctx context.Context, targetID string, typ alerts.Type) (*alerts.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE target_id = ? AND alert_type = ? AND state IN ('OPEN', 'ACKED')
		LIMIT 1
	`
	return s.queryOne(ctx, query, targetID, string(typ))
}

// FindLatestAlert returns the most recently triggered alert for target and
// type in any state.
func (s *AlertStore) FindLatestAlert(ctx context.Context, targetID string, typ alerts.Type) (*alerts.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE target_id = ? AND alert_type = ?
		ORDER BY triggered_at DESC, id ASC
		LIMIT 1
	`
	return s.queryOne(ctx, query, targetID, string(typ))
}

// FindAlertByID returns the alert with id, or nil.
func (s *AlertStore) FindAlertByID(ctx context.Context, id string) (*alerts.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	return s.queryOne(ctx, query, id)
}

// FindRecentAlerts returns alerts matching the filter, newest first.
func (s *AlertStore) FindRecentAlerts(ctx context.Context, f alerts.Filter) ([]alerts.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	if f.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, f.TargetID)
	}
	if f.Type != "" {
		where = append(where, "alert_type = ?")
		args = append(args, string(f.Type))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC, id ASC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *AlertStore) queryOne(ctx context.Context, query string, args ...any) (*alerts.Alert, error) {
	a, err := scanAlert(s.db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*alerts.Alert, error) {
	var (
		a           alerts.Alert
		typ, state  string
		triggeredAt string
		resolvedAt  sql.NullString
		payload     string
	)
	if err := row.Scan(&a.ID, &typ, &a.TargetID, &state, &triggeredAt, &resolvedAt, &payload, &a.Revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	a.Type = alerts.Type(typ)
	a.State = alerts.State(state)

	var err error
	if a.TriggeredAt, err = parseTime(triggeredAt); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, err
		}
		a.ResolvedAt = &t
	}
	if a.Payload, err = alerts.UnmarshalPayload([]byte(payload)); err != nil {
		return nil, err
	}

	return &a, nil
}
