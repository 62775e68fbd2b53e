package sqlite

// initSchema creates the database schema if it doesn't exist.
func (db *DB) initSchema() error {
	schema := `
	-- Managed services subject to evaluation
	CREATE TABLE IF NOT EXISTS services (
		service_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		registered_at TEXT NOT NULL
	);

	-- Per-minute traffic samples; '' marks an absent route or consumer
	CREATE TABLE IF NOT EXISTS traffic_samples (
		service_id TEXT NOT NULL,
		route_id TEXT NOT NULL DEFAULT '',
		consumer_id TEXT NOT NULL DEFAULT '',
		window_start TEXT NOT NULL,
		request_rate REAL NOT NULL DEFAULT 0,
		latency_p50 REAL NOT NULL DEFAULT 0,
		latency_p95 REAL NOT NULL DEFAULT 0,
		error_rate_4xx REAL NOT NULL DEFAULT 0,
		error_rate_5xx REAL NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		UNIQUE (service_id, route_id, consumer_id, window_start),
		CHECK (route_id = '' OR consumer_id = '')
	);

	CREATE INDEX IF NOT EXISTS idx_traffic_samples_service_window ON traffic_samples(service_id, window_start);
	CREATE INDEX IF NOT EXISTS idx_traffic_samples_window ON traffic_samples(window_start);

	-- Alerts with optimistic revision counter
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		alert_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('OPEN', 'ACKED', 'RESOLVED')),
		triggered_at TEXT NOT NULL,
		resolved_at TEXT,
		payload TEXT NOT NULL DEFAULT '{}',
		revision INTEGER NOT NULL DEFAULT 1,
		CHECK ((state = 'RESOLVED') = (resolved_at IS NOT NULL))
	);

	-- At most one active alert per (target, type)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_one_active ON alerts(target_id, alert_type)
		WHERE state IN ('OPEN', 'ACKED');
	CREATE INDEX IF NOT EXISTS idx_alerts_target_type ON alerts(target_id, alert_type, triggered_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_triggered ON alerts(triggered_at DESC);
	`

	_, err := db.conn.Exec(schema)
	return err
}
