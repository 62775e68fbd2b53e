package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/config"
	"github.com/willibrandon/tollgate/internal/report"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(dir, "tollgate.db")
	cfg.Evaluation.Interval = time.Hour
	cfg.Server.Bind = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Services = []config.ServiceConfig{{ID: "svc_orders", Name: "Orders"}}
	return cfg
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func TestAgent_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg)
	a.SetPIDFile(filepath.Join(t.TempDir(), "tollgate.pid"))

	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })

	baseURL := "http://" + a.Addr()
	asOf := time.Now().UTC().Truncate(time.Minute)

	var samples []map[string]any
	for i := 1; i <= 3; i++ {
		samples = append(samples, map[string]any{
			"serviceId":    "svc_orders",
			"windowStart":  asOf.Add(-time.Duration(i) * time.Minute),
			"requestRate":  100,
			"latencyP95":   950,
			"errorRate5xx": 0.5,
		})
	}
	resp := postJSON(t, baseURL+"/v1/samples", map[string]any{"samples": samples})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, fmt.Sprintf("%s/v1/evaluate?asOf=%s", baseURL, asOf.Format(time.RFC3339)), nil)
	var cycle alerts.CycleReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cycle))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, cycle.Services)
	assert.Equal(t, 1, cycle.Opened, "latency rule breached, error rule not")

	resp, err := http.Get(baseURL + "/v1/alerts?state=OPEN")
	require.NoError(t, err)
	var open []alerts.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&open))
	resp.Body.Close()
	require.Len(t, open, 1)
	assert.Equal(t, alerts.TypeLatencyHigh, open[0].Type)

	resp = postJSON(t, baseURL+"/v1/alerts/"+open[0].ID+"/ack", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, baseURL+"/v1/alerts/"+open[0].ID+"/ack", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(baseURL + "/v1/services/svc_orders/metrics?window=5m")
	require.NoError(t, err)
	var rep report.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	resp.Body.Close()
	assert.Equal(t, "svc_orders", rep.ServiceID)
	assert.False(t, rep.Derived)

	resp, err = http.Get(baseURL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())
	assert.Empty(t, a.Addr())
}

func TestAgent_StartFailsOnBusyPort(t *testing.T) {
	first := New(testConfig(t))
	first.SetPIDFile("")
	require.NoError(t, first.Start(context.Background()))
	t.Cleanup(func() { _ = first.Stop() })

	_, port, err := splitPort(first.Addr())
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Server.Port = port
	second := New(cfg)
	pid := filepath.Join(t.TempDir(), "second.pid")
	second.SetPIDFile(pid)

	require.Error(t, second.Start(context.Background()))
	_, err = ReadPIDFile(pid)
	assert.ErrorIs(t, err, ErrNoPIDFile, "failed start cleans up")
}

func TestOpenCore_RegistersServices(t *testing.T) {
	cfg := testConfig(t)
	cfg.Services = append(cfg.Services, config.ServiceConfig{ID: "svc_billing"})

	core, err := OpenCore(context.Background(), cfg)
	require.NoError(t, err)
	defer core.Close()

	ids, err := core.Stores.Services.FindAllManagedServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"svc_billing", "svc_orders"}, ids)
	assert.Nil(t, core.Cache)
	require.NoError(t, core.Stores.Ping(context.Background()))
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	_, err := OpenStorage(context.Background(), config.StorageConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func splitPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	return host, port, err
}
