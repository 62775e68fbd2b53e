package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/willibrandon/tollgate/internal/traffic"
)

// SampleStore handles persistence of traffic samples.
type SampleStore struct {
	db *DB
}

// NewSampleStore creates a new SampleStore with the given database connection.
func NewSampleStore(db *DB) *SampleStore {
	return &SampleStore{db: db}
}

// UpsertSamples writes samples in one transaction. A sample with the same
// natural key as a stored one replaces it.
func (s *SampleStore) UpsertSamples(ctx context.Context, samples []traffic.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO traffic_samples (
			service_id, route_id, consumer_id, window_start,
			request_rate, latency_p50, latency_p95, error_rate_4xx, error_rate_5xx, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service_id, route_id, consumer_id, window_start) DO UPDATE SET
			request_rate = excluded.request_rate,
			latency_p50 = excluded.latency_p50,
			latency_p95 = excluded.latency_p95,
			error_rate_4xx = excluded.error_rate_4xx,
			error_rate_5xx = excluded.error_rate_5xx,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, sm := range samples {
		_, err := stmt.ExecContext(ctx,
			sm.ServiceID,
			sm.Axis.RouteID(),
			sm.Axis.ConsumerID(),
			formatTime(traffic.TruncateMinute(sm.WindowStart)),
			sm.RequestRate,
			sm.LatencyP50,
			sm.LatencyP95,
			sm.ErrorRate4xx,
			sm.ErrorRate5xx,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert sample %s: %w", sm.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindSamplesByServiceAndWindow returns every sample of the service, on any
// axis, with window start in [from, to), ordered by window start.
func (s *SampleStore) FindSamplesByServiceAndWindow(ctx context.Context, serviceID string, from, to time.Time) ([]traffic.Sample, error) {
	query := `
		SELECT service_id, route_id, consumer_id, window_start,
		       request_rate, latency_p50, latency_p95, error_rate_4xx, error_rate_5xx
		FROM traffic_samples
		WHERE service_id = ? AND window_start >= ? AND window_start < ?
		ORDER BY window_start ASC, route_id ASC, consumer_id ASC
	`

	rows, err := s.db.conn.QueryContext(ctx, query, serviceID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// PruneSamples deletes up to limit samples whose window started before
// cutoff. It returns the number of rows removed.
func (s *SampleStore) PruneSamples(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		DELETE FROM traffic_samples
		WHERE rowid IN (
			SELECT rowid FROM traffic_samples
			WHERE window_start < ?
			LIMIT ?
		)
	`

	result, err := s.db.conn.ExecContext(ctx, query, formatTime(cutoff), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of stored samples, for diagnostics.
func (s *SampleStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM traffic_samples`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return count, nil
}

func scanSamples(rows *sql.Rows) ([]traffic.Sample, error) {
	var samples []traffic.Sample

	for rows.Next() {
		var (
			sm                  traffic.Sample
			routeID, consumerID string
			windowStart         string
		)
		if err := rows.Scan(
			&sm.ServiceID,
			&routeID,
			&consumerID,
			&windowStart,
			&sm.RequestRate,
			&sm.LatencyP50,
			&sm.LatencyP95,
			&sm.ErrorRate4xx,
			&sm.ErrorRate5xx,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}

		axis, err := traffic.AxisFromColumns(routeID, consumerID)
		if err != nil {
			return nil, fmt.Errorf("stored sample for %s: %w", sm.ServiceID, err)
		}
		sm.Axis = axis

		if sm.WindowStart, err = parseTime(windowStart); err != nil {
			return nil, err
		}

		samples = append(samples, sm)
	}

	return samples, rows.Err()
}
