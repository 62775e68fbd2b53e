package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

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

// RegisterService adds a managed service or renames an existing one.
func (s *ServiceStore) RegisterService(ctx context.Context, id, name string) error {
	if err := traffic.ValidateServiceID(id); err != nil {
		return err
	}
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO services (service_id, name) VALUES ($1, $2)
		ON CONFLICT (service_id) DO UPDATE SET name = EXCLUDED.name
	`, id, name)
	if err != nil {
		return fmt.Errorf("failed to register service %s: %w", id, err)
	}
	return nil
}

// FindAllManagedServices returns managed service ids in ascending order.
func (s *ServiceStore) FindAllManagedServices(ctx context.Context) ([]string, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT service_id FROM services ORDER BY service_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan services: %w", err)
	}
	return ids, nil
}

// ListServices returns full registrations in ascending id order.
func (s *ServiceStore) ListServices(ctx context.Context) ([]traffic.Service, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT service_id, name, registered_at FROM services ORDER BY service_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	services, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (traffic.Service, error) {
		var svc traffic.Service
		err := row.Scan(&svc.ID, &svc.Name, &svc.RegisteredAt)
		svc.RegisteredAt = svc.RegisteredAt.UTC()
		return svc, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan services: %w", err)
	}
	return services, nil
}
