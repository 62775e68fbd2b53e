package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/willibrandon/tollgate/internal/ecode"
)

func seeded(states ...State) *memStore {
	store := newMemStore()
	for i, st := range states {
		a := Alert{
			ID:          string(rune('a' + i)),
			Type:        TypeErrorRateHigh,
			TargetID:    "svc_01",
			State:       st,
			TriggeredAt: t0.Add(time.Duration(i) * time.Minute),
		}
		if st == StateResolved {
			at := a.TriggeredAt.Add(time.Minute)
			a.ResolvedAt = &at
		}
		store.put(a)
	}
	return store
}

func TestAcknowledge(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		id        string
		wantCode  ecode.Code
		wantState State
	}{
		{"open becomes acked", StateOpen, "a", "", StateAcked},
		{"acked again conflicts", StateAcked, "a", ecode.Conflict, StateAcked},
		{"resolved conflicts", StateResolved, "a", ecode.Conflict, StateResolved},
		{"unknown id", StateOpen, "zzz", ecode.NotFound, StateOpen},
		{"empty id", StateOpen, "", ecode.InvalidArgument, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seeded(tt.state)
			lc := NewLifecycle(store)

			res, err := lc.Acknowledge(context.Background(), tt.id)

			if ecode.CodeOf(err) != tt.wantCode {
				t.Fatalf("code = %q, want %q (err %v)", ecode.CodeOf(err), tt.wantCode, err)
			}
			if err == nil && (res.AlertID != "a" || res.State != StateAcked) {
				t.Errorf("unexpected result: %+v", res)
			}
			stored, _ := store.FindAlertByID(context.Background(), "a")
			if stored.State != tt.wantState {
				t.Errorf("stored state = %s, want %s", stored.State, tt.wantState)
			}
		})
	}
}

func TestAcknowledge_ConcurrentChange(t *testing.T) {
	store := seeded(StateOpen)
	lc := NewLifecycle(store)

	// a writer resolves the alert between our read and our write
	racing := &racingStore{memStore: store}
	lc.store = racing

	_, err := lc.Acknowledge(context.Background(), "a")
	if !errors.Is(err, ecode.ErrConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

type racingStore struct {
	*memStore
}

func (r *racingStore) FindAlertByID(ctx context.Context, id string) (*Alert, error) {
	a, err := r.memStore.FindAlertByID(ctx, id)
	if err != nil || a == nil {
		return a, err
	}
	other := *a
	_ = other.Resolve(t0.Add(time.Hour), other.Payload)
	if _, err := r.memStore.SaveAlert(ctx, &other); err != nil {
		return nil, err
	}
	return a, nil
}

func intPtr(v int) *int { return &v }

func TestQuery_Limits(t *testing.T) {
	tests := []struct {
		name     string
		limit    *int
		wantCode ecode.Code
	}{
		{"default", nil, ""},
		{"min", intPtr(1), ""},
		{"max", intPtr(MaxQueryLimit), ""},
		{"zero", intPtr(0), ecode.InvalidArgument},
		{"too large", intPtr(500), ecode.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seeded(StateOpen)
			lc := NewLifecycle(store)

			_, err := lc.Query(context.Background(), Query{Limit: tt.limit})

			if ecode.CodeOf(err) != tt.wantCode {
				t.Fatalf("code = %q, want %q", ecode.CodeOf(err), tt.wantCode)
			}
			if tt.wantCode != "" && store.lookups != 0 {
				t.Errorf("invalid query reached the store")
			}
		})
	}
}

func TestQuery_FiltersAndOrder(t *testing.T) {
	store := seeded(StateOpen, StateResolved, StateAcked, StateResolved)
	lc := NewLifecycle(store)

	all, err := lc.Query(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(all) != 4 || all[0].ID != "d" || all[3].ID != "a" {
		t.Errorf("expected newest first, got %+v", all)
	}

	resolved, err := lc.Query(context.Background(), Query{State: StateResolved, Limit: intPtr(1)})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ID != "d" {
		t.Errorf("unexpected resolved page: %+v", resolved)
	}

	if _, err := lc.Query(context.Background(), Query{State: "FIRING"}); ecode.CodeOf(err) != ecode.InvalidArgument {
		t.Errorf("unknown state should be InvalidArgument, got %v", err)
	}
	if _, err := lc.Query(context.Background(), Query{Type: "cpu-high"}); ecode.CodeOf(err) != ecode.InvalidArgument {
		t.Errorf("unknown type should be InvalidArgument, got %v", err)
	}
}

func TestAlert_ResolveTwiceIsInternal(t *testing.T) {
	a := NewAlert(TypeLatencyHigh, "svc", t0, Payload{})
	if err := a.Resolve(t0.Add(time.Minute), Payload{}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := a.Resolve(t0.Add(2*time.Minute), Payload{}); ecode.CodeOf(err) != ecode.Internal {
		t.Errorf("second resolve code = %q, want INTERNAL", ecode.CodeOf(err))
	}
}
