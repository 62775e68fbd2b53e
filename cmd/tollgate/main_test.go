package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tollgate/internal/agent"
	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/api"
	"github.com/willibrandon/tollgate/internal/metrics"
	"github.com/willibrandon/tollgate/internal/report"
	"github.com/willibrandon/tollgate/internal/traffic"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// writeConfig creates a sqlite-backed config in a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`storage:
  driver: sqlite
  sqlite_path: %s
server:
  enabled: false
log:
  file: %s
services:
  - id: svc_orders
    name: Orders
`, filepath.Join(dir, "tollgate.db"), filepath.Join(dir, "tollgate.log"))

	path := filepath.Join(dir, "tollgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"run", "install", "uninstall", "start", "stop", "restart", "status",
		"ingest", "evaluate", "alerts", "metrics", "services"}

	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestDecodeSamples(t *testing.T) {
	jsonList := `[{"serviceId":"svc_01","windowStart":"2026-05-01T12:00:00Z","requestRate":5}]`
	jsonDoc := `{"samples":[{"serviceId":"svc_01","routeId":"r_1","windowStart":"2026-05-01T12:00:00Z"}]}`
	yamlList := `
- serviceId: svc_01
  consumerId: c_1
  windowStart: 2026-05-01T12:00:00Z
  latencyP95: 950
`
	yamlDoc := `
samples:
  - serviceId: svc_01
    windowStart: 2026-05-01T12:00:00Z
  - serviceId: svc_02
    windowStart: 2026-05-01T12:01:00Z
`
	want := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := decodeSamples([]byte(jsonList))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5.0, got[0].RequestRate)
	assert.True(t, got[0].WindowStart.Equal(want))

	got, err = decodeSamples([]byte(jsonDoc))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r_1", got[0].RouteID)

	got, err = decodeSamples([]byte(yamlList))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c_1", got[0].ConsumerID)
	assert.Equal(t, 950.0, got[0].LatencyP95)
	assert.True(t, got[0].WindowStart.Equal(want))

	got, err = decodeSamples([]byte(yamlDoc))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = decodeSamples([]byte("  \n"))
	assert.Error(t, err)
	_, err = decodeSamples([]byte(`[{"serviceId":`))
	assert.Error(t, err)
}

func TestCLI_IngestEvaluateAck(t *testing.T) {
	cfgPath := writeConfig(t)
	asOf := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var samples []traffic.SampleInput
	for i := 1; i <= 3; i++ {
		samples = append(samples, traffic.SampleInput{
			ServiceID:    "svc_orders",
			WindowStart:  asOf.Add(-time.Duration(i) * time.Minute),
			RequestRate:  100,
			LatencyP95:   950,
			ErrorRate5xx: 0.5,
		})
	}
	body, err := json.Marshal(map[string]any{"samples": samples})
	require.NoError(t, err)

	out, err := execute(t, string(body), "--config", cfgPath, "-o", "json", "ingest", "-f", "-")
	require.NoError(t, err)
	assert.JSONEq(t, `{"accepted":3}`, out)

	out, err = execute(t, "", "--config", cfgPath, "-o", "json", "evaluate", "--as-of", asOf.Format(time.RFC3339))
	require.NoError(t, err)
	var cycle alerts.CycleReport
	require.NoError(t, json.Unmarshal([]byte(out), &cycle))
	assert.Equal(t, 1, cycle.Services)
	assert.Equal(t, 1, cycle.Opened, "latency rule breached, error rule not")

	out, err = execute(t, "", "--config", cfgPath, "-o", "json", "alerts", "list", "--state", "OPEN")
	require.NoError(t, err)
	var open []alerts.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &open))
	require.Len(t, open, 1)
	assert.Equal(t, alerts.TypeLatencyHigh, open[0].Type)

	out, err = execute(t, "", "--config", cfgPath, "-o", "yaml", "alerts", "ack", open[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "state: ACKED")

	_, err = execute(t, "", "--config", cfgPath, "alerts", "ack", open[0].ID)
	assert.Error(t, err, "second acknowledge conflicts")

	out, err = execute(t, "", "--config", cfgPath, "-o", "table", "alerts", "list", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "ACKED")
	assert.Contains(t, out, "950 ms")

	_, err = execute(t, "", "--config", cfgPath, "alerts", "list", "--limit", "0")
	assert.Error(t, err)
	_, err = execute(t, "", "--config", cfgPath, "alerts", "list", "--state", "CLOSED")
	assert.Error(t, err)
}

func TestCLI_IngestRejectsWholeBatch(t *testing.T) {
	cfgPath := writeConfig(t)
	doc := `
- serviceId: svc_orders
  windowStart: 2026-05-01T12:00:00Z
- serviceId: svc_orders
  windowStart: 2026-05-01T12:01:00Z
  requestRate: -1
`
	_, err := execute(t, doc, "--config", cfgPath, "ingest", "-f", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samples[1]")

	out, err := execute(t, "", "--config", cfgPath, "-o", "json", "metrics", "svc_orders")
	require.NoError(t, err)
	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 0, rep.SampleCount)
}

func TestCLI_Services(t *testing.T) {
	cfgPath := writeConfig(t)

	_, err := execute(t, "", "--config", cfgPath, "services", "register", "svc_users", "--name", "Users")
	require.NoError(t, err)

	out, err := execute(t, "", "--config", cfgPath, "-o", "json", "services", "list")
	require.NoError(t, err)
	var list []traffic.Service
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "svc_orders", list[0].ID)
	assert.Equal(t, "Users", list[1].Name)

	_, err = execute(t, "", "--config", cfgPath, "services", "register", " ")
	assert.Error(t, err)
}

func TestCLI_MetricsWindow(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := execute(t, "", "--config", cfgPath, "metrics", "svc_orders", "--window", "2h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window must be one of")
}

func TestCLI_UnknownOutputFormat(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := execute(t, "", "--config", cfgPath, "-o", "xml", "services", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestRenderReport(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var samples []traffic.Sample
	for i := 1; i <= 3; i++ {
		samples = append(samples, traffic.Sample{
			ServiceID:   "svc_orders",
			Axis:        traffic.RouteAxis("r_checkout"),
			WindowStart: now.Add(-time.Duration(i) * time.Minute),
			RequestRate: float64(10 * i),
		})
	}
	out, err := renderReport(report.Build("svc_orders", traffic.Window5m, now, samples), 100)
	require.NoError(t, err)
	assert.Contains(t, out, "svc_orders")
	assert.Contains(t, out, "Request rate")
	assert.Contains(t, out, "Top routes")
	assert.Contains(t, out, "r_checkout")
}

func TestFetchAgentStateAndFormat(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(api.HealthResponse{
				Status:  api.StatusUnhealthy,
				Version: "1.2.3",
				Uptime:  "5m0s",
				Components: map[string]api.ComponentHealth{
					"storage": {Status: api.StatusUnhealthy, Message: "database is locked"},
					"cache":   {Status: api.StatusHealthy},
				},
			})
		case "/v1/cycles":
			assert.Equal(t, "3", r.URL.Query().Get("limit"))
			_ = json.NewEncoder(w).Encode([]metrics.CycleRecord{
				{AsOf: now, Duration: 2 * time.Millisecond, Services: 4},
				{AsOf: now.Add(time.Minute), Duration: 3 * time.Millisecond, Services: 4, Opened: 1},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, cycles, err := fetchAgentState(ctx, srv.URL, 3)
	require.NoError(t, err)
	require.NotNil(t, health)
	assert.Equal(t, api.StatusUnhealthy, health.Status)
	require.Len(t, cycles, 2)

	out, err := formatStatus(statusReport{
		Status: agent.Status{State: "running", PID: 4242},
		Addr:   strings.TrimPrefix(srv.URL, "http://"),
		Health: health,
		Cycles: cycles,
	}, 100)
	require.NoError(t, err)
	for _, want := range []string{"tollgate status: running", "4242", "1.2.3", "unhealthy", "database is locked", "cycle duration (ms)"} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "cache:"), strings.Index(out, "storage:"), "components are sorted")

	_, _, err = fetchAgentState(ctx, srv.URL+"/missing", 3)
	assert.Error(t, err)
}

func TestFormatStatus_NotInstalled(t *testing.T) {
	out, err := formatStatus(statusReport{Status: agent.Status{State: "not_installed"}}, 80)
	require.NoError(t, err)
	assert.Contains(t, out, "tollgate install")
	assert.NotContains(t, out, "PID")
}

func TestCLI_IngestRejectsInfinity(t *testing.T) {
	cfgPath := writeConfig(t)
	doc := `
- serviceId: svc_orders
  windowStart: 2026-05-01T12:00:00Z
  latencyP95: .inf
`
	_, err := execute(t, doc, "--config", cfgPath, "ingest", "-f", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latencyP95 invalid")
}
