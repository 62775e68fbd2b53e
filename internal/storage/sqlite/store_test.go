package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/ecode"
	"github.com/willibrandon/tollgate/internal/traffic"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "tollgate_sqlite_test")
	require.NoError(t, err)

	db, err := Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}
	return db, cleanup
}

func testSample(axis traffic.Axis, at time.Time, rate float64) traffic.Sample {
	return traffic.Sample{
		ServiceID:    "svc_01",
		Axis:         axis,
		WindowStart:  at,
		RequestRate:  rate,
		LatencyP50:   20,
		LatencyP95:   120,
		ErrorRate4xx: 0.5,
		ErrorRate5xx: 0.1,
	}
}

func TestSampleStore_UpsertReplacesOnNaturalKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSampleStore(db)

	first := testSample(traffic.RouteAxis("r_1"), base, 10)
	require.NoError(t, store.UpsertSamples(ctx, []traffic.Sample{first}))

	second := first
	second.RequestRate = 42
	second.WindowStart = base.Add(25 * time.Second) // same minute
	require.NoError(t, store.UpsertSamples(ctx, []traffic.Sample{second}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := store.FindSamplesByServiceAndWindow(ctx, "svc_01", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 42.0, got[0].RequestRate)
	assert.Equal(t, traffic.RouteAxis("r_1"), got[0].Axis)
	assert.True(t, got[0].WindowStart.Equal(base))
}

func TestSampleStore_AxesAreDistinctKeys(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSampleStore(db)

	samples := []traffic.Sample{
		testSample(traffic.ServiceAxis(), base, 1),
		testSample(traffic.RouteAxis("r_1"), base, 2),
		testSample(traffic.ConsumerAxis("c_1"), base, 3),
	}
	require.NoError(t, store.UpsertSamples(ctx, samples))

	got, err := store.FindSamplesByServiceAndWindow(ctx, "svc_01", base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)

	kinds := map[traffic.AxisKind]bool{}
	for _, s := range got {
		kinds[s.Axis.Kind()] = true
	}
	assert.Len(t, kinds, 3)
}

func TestSampleStore_WindowIsHalfOpen(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSampleStore(db)

	var samples []traffic.Sample
	for i := 0; i < 7; i++ {
		samples = append(samples, testSample(traffic.ServiceAxis(), base.Add(time.Duration(-i)*time.Minute), float64(i)))
	}
	require.NoError(t, store.UpsertSamples(ctx, samples))

	// [base-5m, base) holds minutes -5..-1
	got, err := store.FindSamplesByServiceAndWindow(ctx, "svc_01", base.Add(-5*time.Minute), base)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.True(t, got[0].WindowStart.Equal(base.Add(-5*time.Minute)))
	assert.True(t, got[4].WindowStart.Equal(base.Add(-time.Minute)))

	other, err := store.FindSamplesByServiceAndWindow(ctx, "svc_02", base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSampleStore_PruneInBatches(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSampleStore(db)

	var samples []traffic.Sample
	for i := 0; i < 10; i++ {
		samples = append(samples, testSample(traffic.ServiceAxis(), base.Add(time.Duration(-i)*time.Minute), 1))
	}
	require.NoError(t, store.UpsertSamples(ctx, samples))

	cutoff := base.Add(-4 * time.Minute)
	n, err := store.PruneSamples(ctx, cutoff, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = store.PruneSamples(ctx, cutoff, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.PruneSamples(ctx, cutoff, 4)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestServiceStore_RegisterAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewServiceStore(db)

	require.NoError(t, store.RegisterService(ctx, "svc_b", "Billing"))
	require.NoError(t, store.RegisterService(ctx, "svc_a", "Accounts"))
	require.NoError(t, store.RegisterService(ctx, "svc_b", "Billing v2"))

	ids, err := store.FindAllManagedServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc_a", "svc_b"}, ids)

	services, err := store.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "Billing v2", services[1].Name)

	err = store.RegisterService(ctx, " ", "blank")
	assert.Equal(t, ecode.InvalidArgument, ecode.CodeOf(err))
}

func newTestAlert(target string, typ alerts.Type, at time.Time) *alerts.Alert {
	return alerts.NewAlert(typ, target, at, alerts.Payload{
		ServiceID:  target,
		Rule:       typ,
		Observed:   2.5,
		Threshold:  2.0,
		Transition: alerts.TransitionOpen,
	})
}

func TestAlertStore_InsertAndFind(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAlertStore(db)

	a := newTestAlert("svc_01", alerts.TypeErrorRateHigh, base)
	saved, err := store.SaveAlert(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Revision)

	got, err := store.FindAlertByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, alerts.StateOpen, got.State)
	assert.True(t, got.TriggeredAt.Equal(base))
	assert.Nil(t, got.ResolvedAt)
	assert.Equal(t, 2.5, got.Payload.Observed)

	active, err := store.FindActiveAlert(ctx, "svc_01", alerts.TypeErrorRateHigh)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, a.ID, active.ID)

	missing, err := store.FindAlertByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	none, err := store.FindActiveAlert(ctx, "svc_01", alerts.TypeLatencyHigh)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAlertStore_OneActivePerTargetAndType(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAlertStore(db)

	_, err := store.SaveAlert(ctx, newTestAlert("svc_01", alerts.TypeErrorRateHigh, base))
	require.NoError(t, err)

	_, err = store.SaveAlert(ctx, newTestAlert("svc_01", alerts.TypeErrorRateHigh, base.Add(time.Minute)))
	assert.ErrorIs(t, err, ecode.ErrConflict)

	// different type is independent
	_, err = store.SaveAlert(ctx, newTestAlert("svc_01", alerts.TypeLatencyHigh, base))
	assert.NoError(t, err)
}

func TestAlertStore_RevisionCheck(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAlertStore(db)

	a := newTestAlert("svc_01", alerts.TypeErrorRateHigh, base)
	_, err := store.SaveAlert(ctx, a)
	require.NoError(t, err)

	reader1, err := store.FindAlertByID(ctx, a.ID)
	require.NoError(t, err)
	reader2, err := store.FindAlertByID(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, reader1.Acknowledge())
	_, err = store.SaveAlert(ctx, reader1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reader1.Revision)

	require.NoError(t, reader2.Resolve(base.Add(time.Minute), reader2.Payload))
	_, err = store.SaveAlert(ctx, reader2)
	assert.ErrorIs(t, err, ecode.ErrConflict)

	stored, err := store.FindAlertByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alerts.StateAcked, stored.State)
}

func TestAlertStore_ResolveFreesActiveSlot(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAlertStore(db)

	a := newTestAlert("svc_01", alerts.TypeLatencyHigh, base)
	_, err := store.SaveAlert(ctx, a)
	require.NoError(t, err)
	require.NoError(t, a.Resolve(base.Add(3*time.Minute), a.Payload))
	_, err = store.SaveAlert(ctx, a)
	require.NoError(t, err)

	latest, err := store.FindLatestAlert(ctx, "svc_01", alerts.TypeLatencyHigh)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, alerts.StateResolved, latest.State)
	require.NotNil(t, latest.ResolvedAt)
	assert.True(t, latest.ResolvedAt.Equal(base.Add(3*time.Minute)))

	b := newTestAlert("svc_01", alerts.TypeLatencyHigh, base.Add(20*time.Minute))
	_, err = store.SaveAlert(ctx, b)
	require.NoError(t, err)

	latest, err = store.FindLatestAlert(ctx, "svc_01", alerts.TypeLatencyHigh)
	require.NoError(t, err)
	assert.Equal(t, b.ID, latest.ID)
}

func TestAlertStore_FindRecentAlerts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAlertStore(db)

	for i, target := range []string{"svc_01", "svc_02", "svc_03"} {
		a := newTestAlert(target, alerts.TypeErrorRateHigh, base.Add(time.Duration(i)*time.Minute))
		_, err := store.SaveAlert(ctx, a)
		require.NoError(t, err)
		if target == "svc_02" {
			require.NoError(t, a.Resolve(base.Add(10*time.Minute), a.Payload))
			_, err = store.SaveAlert(ctx, a)
			require.NoError(t, err)
		}
	}

	all, err := store.FindRecentAlerts(ctx, alerts.Filter{Limit: 50})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "svc_03", all[0].TargetID)
	assert.Equal(t, "svc_01", all[2].TargetID)

	open, err := store.FindRecentAlerts(ctx, alerts.Filter{State: alerts.StateOpen, Limit: 50})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	one, err := store.FindRecentAlerts(ctx, alerts.Filter{TargetID: "svc_02", Type: alerts.TypeErrorRateHigh, Limit: 1})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, alerts.StateResolved, one[0].State)

	paged, err := store.FindRecentAlerts(ctx, alerts.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
}

func TestEvaluatorAgainstSQLite(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	samples := NewSampleStore(db)
	services := NewServiceStore(db)
	alertStore := NewAlertStore(db)

	require.NoError(t, services.RegisterService(ctx, "svc_01", ""))
	s := testSample(traffic.ServiceAxis(), base.Add(-2*time.Minute), 100)
	s.ErrorRate5xx = 2.5
	require.NoError(t, samples.UpsertSamples(ctx, []traffic.Sample{s}))

	eval := alerts.NewEvaluator(alertStore, samples, services)

	report, err := eval.EvaluateAt(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Opened)

	report, err = eval.EvaluateAt(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, report.Changes)

	lc := alerts.NewLifecycle(alertStore)
	list, err := lc.Query(ctx, alerts.Query{TargetID: "svc_01"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	res, err := lc.Acknowledge(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, alerts.StateAcked, res.State)

	_, err = lc.Acknowledge(ctx, list[0].ID)
	assert.ErrorIs(t, err, ecode.ErrConflict)
}

func TestEvaluatorAgainstSQLite_CooldownKeepsSubMillisecondResolve(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	samples := NewSampleStore(db)
	services := NewServiceStore(db)
	alertStore := NewAlertStore(db)
	require.NoError(t, services.RegisterService(ctx, "svc_01", ""))

	breach := testSample(traffic.ServiceAxis(), base.Add(-2*time.Minute), 100)
	breach.ErrorRate5xx = 2.5
	require.NoError(t, samples.UpsertSamples(ctx, []traffic.Sample{breach}))

	eval := alerts.NewEvaluator(alertStore, samples, services)

	report, err := eval.EvaluateAt(ctx, base.Add(900*time.Microsecond))
	require.NoError(t, err)
	require.Equal(t, 1, report.Opened)

	// Clear the breach and resolve between two millisecond boundaries.
	cleared := breach
	cleared.ErrorRate5xx = 0.1
	require.NoError(t, samples.UpsertSamples(ctx, []traffic.Sample{cleared}))
	resolvedAt := base.Add(time.Minute + 700*time.Microsecond)
	report, err = eval.EvaluateAt(ctx, resolvedAt)
	require.NoError(t, err)
	require.Equal(t, 1, report.Resolved)

	again := testSample(traffic.ServiceAxis(), base.Add(10*time.Minute), 100)
	again.ErrorRate5xx = 2.5
	require.NoError(t, samples.UpsertSamples(ctx, []traffic.Sample{again}))

	// 100µs short of the cooldown, but past it if resolvedAt were rounded
	// down to the millisecond.
	t1 := resolvedAt.Add(alerts.Cooldown - 100*time.Microsecond)
	report, err = eval.EvaluateAt(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Opened)
	assert.Equal(t, 1, report.Suppressed)

	all, err := alertStore.FindRecentAlerts(ctx, alerts.Filter{TargetID: "svc_01", Limit: 50})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].ResolvedAt)
	assert.True(t, all[0].ResolvedAt.Equal(resolvedAt), "resolvedAt round-trips exactly, got %v", all[0].ResolvedAt)
}
