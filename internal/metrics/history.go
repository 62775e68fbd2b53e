package metrics

import (
	"sync"
	"time"

	"github.com/willibrandon/tollgate/internal/alerts"
)

// DefaultHistoryCapacity is the number of cycles kept in memory.
const DefaultHistoryCapacity = 120

// CycleRecord is the retained summary of one evaluation cycle.
type CycleRecord struct {
	AsOf       time.Time     `json:"asOf" yaml:"asOf"`
	StartedAt  time.Time     `json:"startedAt" yaml:"startedAt"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Services   int           `json:"services" yaml:"services"`
	Skipped    int           `json:"skipped" yaml:"skipped"`
	Opened     int           `json:"opened" yaml:"opened"`
	Resolved   int           `json:"resolved" yaml:"resolved"`
	Suppressed int           `json:"suppressed" yaml:"suppressed"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewCycleRecord converts a cycle report.
func NewCycleRecord(startedAt time.Time, r alerts.CycleReport, err error) CycleRecord {
	rec := CycleRecord{
		AsOf:       r.AsOf,
		StartedAt:  startedAt,
		Duration:   r.Duration,
		Services:   r.Services,
		Skipped:    r.Skipped,
		Opened:     r.Opened,
		Resolved:   r.Resolved,
		Suppressed: r.Suppressed,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// CycleHistory is a fixed-size ring of cycle records. It is safe for
// concurrent use and evicts the oldest record when full.
type CycleHistory struct {
	data     []CycleRecord
	capacity int
	head     int // next write position
	size     int
	mu       sync.RWMutex
}

// NewCycleHistory creates a history with the given capacity.
func NewCycleHistory(capacity int) *CycleHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &CycleHistory{
		data:     make([]CycleRecord, capacity),
		capacity: capacity,
	}
}

// Push appends a record.
func (h *CycleHistory) Push(rec CycleRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data[h.head] = rec
	h.head = (h.head + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
}

// Recent returns up to n records, oldest first.
func (h *CycleHistory) Recent(n int) []CycleRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || h.size == 0 {
		return nil
	}
	if n > h.size {
		n = h.size
	}

	out := make([]CycleRecord, n)
	start := (h.head - n + h.capacity) % h.capacity
	for i := 0; i < n; i++ {
		out[i] = h.data[(start+i)%h.capacity]
	}
	return out
}

// Latest returns the newest record.
func (h *CycleHistory) Latest() (CycleRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return CycleRecord{}, false
	}
	return h.data[(h.head-1+h.capacity)%h.capacity], true
}

// Durations returns cycle durations in milliseconds, oldest first.
func (h *CycleHistory) Durations() []float64 {
	recs := h.Recent(h.Len())
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = float64(r.Duration) / float64(time.Millisecond)
	}
	return out
}

// Len returns the number of stored records.
func (h *CycleHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}
