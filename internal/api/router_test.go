package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"marketchart/internal/chart/engine"
	"marketchart/internal/gateway"
	"marketchart/internal/history"
	"marketchart/internal/indicator"
	"marketchart/internal/markethours"
	"marketchart/internal/metrics"
	"marketchart/internal/model"
)

var kst = time.FixedZone("KST", 9*3600)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	all := make([]model.Candle, 120)
	for i := range all {
		all[i] = model.Candle{Time: int64(i+1) * 86400, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 3}
	}
	src := history.SourceFunc(func(_ context.Context, req history.Request) ([]model.Candle, error) {
		end := len(all)
		if req.Before != 0 {
			end = int(req.Before/86400) - 1
		}
		start := end - req.Limit
		if start < 0 {
			start = 0
		}
		return all[start:end], nil
	})

	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	eng, err := engine.New(engine.Options{
		Source:  src,
		Specs:   []indicator.Spec{{Kind: indicator.KindMA, Period: 5}},
		Metrics: m,
	})
	require.NoError(t, err)
	hub := gateway.NewHub(eng, m)

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(Deps{
		Engine:   eng,
		Hub:      hub,
		Health:   metrics.NewHealthStatus(),
		Calendar: markethours.NewWithLocation(kst),
		Start:    time.Now(),
		Now:      func() time.Time { return time.Date(2026, 3, 3, 10, 0, 0, 0, kst) },
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func getChart(t *testing.T, srv *httptest.Server) engine.Chart {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/chart")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c engine.Chart
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	return c
}

func TestRouter_SelectThenChart(t *testing.T) {
	srv := newTestServer(t)

	c := getChart(t, srv)
	require.Equal(t, engine.StatusIdle, c.Status)

	resp, err := http.Post(srv.URL+"/api/v1/select", "application/json",
		strings.NewReader(`{"instrument":"KRX:KOSPI:005930"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return getChart(t, srv).Status == engine.StatusReady
	}, 3*time.Second, 10*time.Millisecond)

	c = getChart(t, srv)
	require.Equal(t, "005930", c.Instrument.Code)
	require.Len(t, c.Candles, 120)
	require.Len(t, c.Volume, 120)
	require.Contains(t, c.Lines, "MA_5")
	require.False(t, c.HasMore)
}

func TestRouter_SelectRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{`not json`, `{"instrument":"005930"}`} {
		resp, err := http.Post(srv.URL+"/api/v1/select", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/api/v1/select")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouter_Market(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/market")
	require.NoError(t, err)
	defer resp.Body.Close()

	var ms marketStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ms))
	require.True(t, ms.Open)
	require.True(t, strings.HasPrefix(ms.Status, "Market Open"), ms.Status)
	require.Equal(t, "KST", ms.TZ)
}

func TestRouter_HealthAndSystem(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/api/v1/system")
	require.NoError(t, err)
	defer resp.Body.Close()
	var sm gateway.SystemMetrics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sm))
	require.Equal(t, 0, sm.Clients)
	require.Greater(t, sm.Goroutines, 0)
	require.NotNil(t, sm.Queues)
	require.Equal(t, engine.DefaultTickQueue, sm.Queues.Ticks.Cap)
	require.Len(t, sm.Queues.Updates, 1)
}

func TestRouter_MissedRequiresFrom(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/missed")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/missed?from=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
}
