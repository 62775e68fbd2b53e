package postgres

import "context"

// initSchema creates the database schema if it doesn't exist.
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS services (
		service_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS traffic_samples (
		id BIGSERIAL PRIMARY KEY,
		service_id TEXT NOT NULL,
		route_id TEXT NOT NULL DEFAULT '',
		consumer_id TEXT NOT NULL DEFAULT '',
		window_start TIMESTAMPTZ NOT NULL,
		request_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_p50 DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_p95 DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_rate_4xx DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_rate_5xx DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (service_id, route_id, consumer_id, window_start),
		CHECK (route_id = '' OR consumer_id = '')
	);

	CREATE INDEX IF NOT EXISTS idx_traffic_samples_service_window ON traffic_samples(service_id, window_start);
	CREATE INDEX IF NOT EXISTS idx_traffic_samples_window ON traffic_samples(window_start);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		alert_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('OPEN', 'ACKED', 'RESOLVED')),
		triggered_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		payload JSONB NOT NULL DEFAULT '{}',
		revision BIGINT NOT NULL DEFAULT 1,
		CHECK ((state = 'RESOLVED') = (resolved_at IS NOT NULL))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_one_active ON alerts(target_id, alert_type)
		WHERE state IN ('OPEN', 'ACKED');
	CREATE INDEX IF NOT EXISTS idx_alerts_target_type ON alerts(target_id, alert_type, triggered_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_triggered ON alerts(triggered_at DESC);
	`

	_, err := db.pool.Exec(ctx, schema)
	return err
}
