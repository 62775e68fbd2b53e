package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/config"
	"github.com/willibrandon/tollgate/internal/storage/postgres"
	"github.com/willibrandon/tollgate/internal/storage/sqlite"
	"github.com/willibrandon/tollgate/internal/traffic"
)

// SampleStore persists traffic samples.
type SampleStore interface {
	alerts.SampleSource
	UpsertSamples(ctx context.Context, samples []traffic.Sample) error
	PruneSamples(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// ServiceStore persists managed service registrations.
type ServiceStore interface {
	alerts.ServiceLister
	RegisterService(ctx context.Context, id, name string) error
	ListServices(ctx context.Context) ([]traffic.Service, error)
}

// Stores bundles the stores of one backend.
type Stores struct {
	Driver   string
	Samples  SampleStore
	Services ServiceStore
	Alerts   alerts.Store

	ping  func(context.Context) error
	close func()
}

// OpenStorage opens the backend selected by cfg.Driver.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (*Stores, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Driver:   cfg.Driver,
			Samples:  sqlite.NewSampleStore(db),
			Services: sqlite.NewServiceStore(db),
			Alerts:   sqlite.NewAlertStore(db),
			ping:     db.Ping,
			close: func() {
				// Fold the WAL back so the file is self-contained on disk.
				_, _ = db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)")
				_ = db.Close()
			},
		}, nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.Options{
			MaxConns:       int32(cfg.PoolMaxConns),
			ConnectRetries: 5,
		})
		if err != nil {
			return nil, err
		}
		return &Stores{
			Driver:   cfg.Driver,
			Samples:  postgres.NewSampleStore(db),
			Services: postgres.NewServiceStore(db),
			Alerts:   postgres.NewAlertStore(db),
			ping:     db.Ping,
			close:    db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// Ping checks the backend connection.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
		s.close = nil
	}
}

// RegisterServices registers every configured service.
func (s *Stores) RegisterServices(ctx context.Context, services []config.ServiceConfig) error {
	for _, svc := range services {
		name := svc.Name
		if name == "" {
			name = svc.ID
		}
		if err := s.Services.RegisterService(ctx, svc.ID, name); err != nil {
			return err
		}
	}
	return nil
}
