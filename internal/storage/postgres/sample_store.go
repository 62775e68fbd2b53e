package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/willibrandon/tollgate/internal/traffic"
)

// SampleStore handles persistence of traffic samples.
type SampleStore struct {
	db *DB
}

// NewSampleStore creates a new SampleStore.
func NewSampleStore(db *DB) *SampleStore {
	return &SampleStore{db: db}
}

const upsertSampleSQL = `
	INSERT INTO traffic_samples (
		service_id, route_id, consumer_id, window_start,
		request_rate, latency_p50, latency_p95, error_rate_4xx, error_rate_5xx, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (service_id, route_id, consumer_id, window_start) DO UPDATE SET
		request_rate = EXCLUDED.request_rate,
		latency_p50 = EXCLUDED.latency_p50,
		latency_p95 = EXCLUDED.latency_p95,
		error_rate_4xx = EXCLUDED.error_rate_4xx,
		error_rate_5xx = EXCLUDED.error_rate_5xx,
		updated_at = now()
`

// UpsertSamples writes samples in one transaction using a pipelined batch.
func (s *SampleStore) UpsertSamples(ctx context.Context, samples []traffic.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sm := range samples {
		batch.Queue(upsertSampleSQL,
			sm.ServiceID,
			sm.Axis.RouteID(),
			sm.Axis.ConsumerID(),
			traffic.TruncateMinute(sm.WindowStart),
			sm.RequestRate,
			sm.LatencyP50,
			sm.LatencyP95,
			sm.ErrorRate4xx,
			sm.ErrorRate5xx,
		)
	}

	return pgx.BeginFunc(ctx, s.db.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert samples: %w", err)
		}
		return nil
	})
}

// FindSamplesByServiceAndWindow returns every sample of the service with
// window start in [from, to), ordered by window start.
func (s *SampleStore) FindSamplesByServiceAndWindow(ctx context.Context, serviceID string, from, to time.Time) ([]traffic.Sample, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT service_id, route_id, consumer_id, window_start,
		       request_rate, latency_p50, latency_p95, error_rate_4xx, error_rate_5xx
		FROM traffic_samples
		WHERE service_id = $1 AND window_start >= $2 AND window_start < $3
		ORDER BY window_start ASC, route_id ASC, consumer_id ASC
	`, serviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}

	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (traffic.Sample, error) {
		var (
			sm                  traffic.Sample
			routeID, consumerID string
		)
		if err := row.Scan(&sm.ServiceID, &routeID, &consumerID, &sm.WindowStart,
			&sm.RequestRate, &sm.LatencyP50, &sm.LatencyP95, &sm.ErrorRate4xx, &sm.ErrorRate5xx); err != nil {
			return sm, err
		}
		axis, err := traffic.AxisFromColumns(routeID, consumerID)
		if err != nil {
			return sm, err
		}
		sm.Axis = axis
		sm.WindowStart = sm.WindowStart.UTC()
		return sm, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan samples: %w", err)
	}
	return samples, nil
}

// PruneSamples deletes up to limit samples whose window started before cutoff.
func (s *SampleStore) PruneSamples(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}

	tag, err := s.db.pool.Exec(ctx, `
		DELETE FROM traffic_samples
		WHERE id IN (
			SELECT id FROM traffic_samples
			WHERE window_start < $1
			LIMIT $2
		)
	`, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return tag.RowsAffected(), nil
}
