package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/willibrandon/tollgate/internal/traffic"
)

// ServiceStore persists managed service registrations.
type ServiceStore struct {
	db *DB
}

// NewServiceStore creates a new ServiceStore.
func NewServiceStore(db *DB) *ServiceStore {
	return &ServiceStore{db: db}
}

// RegisterService adds a managed service or renames an existing one. The
// original registration time is kept.
func (s *ServiceStore) RegisterService(ctx context.Context, id, name string) error {
	if err := traffic.ValidateServiceID(id); err != nil {
		return err
	}

	query := `
		INSERT INTO services (service_id, name, registered_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service_id) DO UPDATE SET name = excluded.name
	`
	if _, err := s.db.conn.ExecContext(ctx, query, id, name, formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to register service %s: %w", id, err)
	}
	return nil
}

// FindAllManagedServices returns managed service ids in ascending order.
func (s *ServiceStore) FindAllManagedServices(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT service_id FROM services ORDER BY service_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListServices returns full registrations in ascending id order.
func (s *ServiceStore) ListServices(ctx context.Context) ([]traffic.Service, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT service_id, name, registered_at FROM services ORDER BY service_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []traffic.Service
	for rows.Next() {
		var (
			svc traffic.Service
			reg string
		)
		if err := rows.Scan(&svc.ID, &svc.Name, &reg); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		if svc.RegisteredAt, err = parseTime(reg); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}
