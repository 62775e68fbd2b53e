package alerts

import (
	"context"
	"time"

	"github.com/willibrandon/tollgate/internal/traffic"
)

const (
	// DefaultQueryLimit applies when a query sets no limit.
	DefaultQueryLimit = 50
	// MaxQueryLimit is the largest accepted query limit.
	MaxQueryLimit = 200
)

// Filter narrows FindRecentAlerts. Empty fields match everything. Results
// are ordered by TriggeredAt descending, then ID ascending.
type Filter struct {
	State    State
	TargetID string
	Type     Type
	Limit    int
}

// Store persists alerts.
//
// SaveAlert inserts when Revision is 0 and otherwise updates only if the
// stored revision still matches, returning a Conflict error when it does not.
// Inserting a second active alert for the same (target, type) is also a
// Conflict. Lookups return (nil, nil) when nothing matches.
type Store interface {
	FindActiveAlert(ctx context.Context, targetID string, typ Type) (*Alert, error)
	FindLatestAlert(ctx context.Context, targetID string, typ Type) (*Alert, error)
	SaveAlert(ctx context.Context, alert *Alert) (*Alert, error)
	FindAlertByID(ctx context.Context, id string) (*Alert, error)
	FindRecentAlerts(ctx context.Context, filter Filter) ([]Alert, error)
}

// SampleSource reads samples for a service over [from, to).
type SampleSource interface {
	FindSamplesByServiceAndWindow(ctx context.Context, serviceID string, from, to time.Time) ([]traffic.Sample, error)
}

// ServiceLister lists the services subject to evaluation.
type ServiceLister interface {
	FindAllManagedServices(ctx context.Context) ([]string, error)
}
