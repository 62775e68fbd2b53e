package alerts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/willibrandon/tollgate/internal/ecode"
	"github.com/willibrandon/tollgate/internal/traffic"
)

// memStore is an in-memory Store with the same revision and uniqueness
// rules as the database stores.
type memStore struct {
	mu      sync.Mutex
	alerts  map[string]Alert
	lookups int
}

func newMemStore() *memStore {
	return &memStore{alerts: make(map[string]Alert)}
}

func (m *memStore) FindActiveAlert(_ context.Context, targetID string, typ Type) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, a := range m.alerts {
		if a.TargetID == targetID && a.Type == typ && a.IsActive() {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindLatestAlert(_ context.Context, targetID string, typ Type) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	var latest *Alert
	for _, a := range m.alerts {
		if a.TargetID != targetID || a.Type != typ {
			continue
		}
		if latest == nil || a.TriggeredAt.After(latest.TriggeredAt) {
			cp := a
			latest = &cp
		}
	}
	return latest, nil
}

func (m *memStore) SaveAlert(_ context.Context, alert *Alert) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alert.Revision == 0 {
		if alert.IsActive() {
			for _, a := range m.alerts {
				if a.TargetID == alert.TargetID && a.Type == alert.Type && a.IsActive() {
					return nil, ecode.New(ecode.Conflict, "memStore.SaveAlert", "active alert exists")
				}
			}
		}
		alert.Revision = 1
		m.alerts[alert.ID] = *alert
		return alert, nil
	}

	stored, ok := m.alerts[alert.ID]
	if !ok || stored.Revision != alert.Revision {
		return nil, ecode.New(ecode.Conflict, "memStore.SaveAlert", "revision mismatch")
	}
	alert.Revision++
	m.alerts[alert.ID] = *alert
	return alert, nil
}

func (m *memStore) FindAlertByID(_ context.Context, id string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	a, ok := m.alerts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memStore) FindRecentAlerts(_ context.Context, f Filter) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	var out []Alert
	for _, a := range m.alerts {
		if f.State != "" && a.State != f.State {
			continue
		}
		if f.TargetID != "" && a.TargetID != f.TargetID {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].TriggeredAt.After(out[j].TriggeredAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) all() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	return out
}

func (m *memStore) put(a Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Revision == 0 {
		a.Revision = 1
	}
	m.alerts[a.ID] = a
}

// memSamples serves samples per service and can fail chosen services.
type memSamples struct {
	mu      sync.Mutex
	samples map[string][]traffic.Sample
	fail    map[string]bool
}

func newMemSamples() *memSamples {
	return &memSamples{samples: make(map[string][]traffic.Sample), fail: make(map[string]bool)}
}

func (m *memSamples) set(serviceID string, samples ...traffic.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[serviceID] = samples
}

func (m *memSamples) FindSamplesByServiceAndWindow(_ context.Context, serviceID string, from, to time.Time) ([]traffic.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[serviceID] {
		return nil, errors.New("connection reset")
	}
	var out []traffic.Sample
	for _, s := range m.samples[serviceID] {
		if !s.WindowStart.Before(from) && s.WindowStart.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type staticServices []string

func (s staticServices) FindAllManagedServices(context.Context) ([]string, error) {
	return s, nil
}
