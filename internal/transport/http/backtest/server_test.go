package backtesthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/backtest"
	"tradesim/internal/config"
	"tradesim/internal/market"
)

type feedLoader struct{ feed *market.Feed }

func (l feedLoader) LoadFeed(context.Context, string, string, time.Time, time.Time) (*market.Feed, error) {
	return l.feed, nil
}

func newTestServer(t *testing.T) (*Server, *backtest.Service) {
	t.Helper()
	opens := []float64{10, 10, 9, 8.5, 11.5}
	closes := []float64{10, 9, 8, 11, 12}
	day0 := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i := range closes {
		bars[i] = market.Bar{Time: day0.AddDate(0, 0, i), Open: opens[i], High: 13, Low: 7, Close: closes[i], Volume: 100}
	}
	feed, err := market.Load("TEST", bars)
	require.NoError(t, err)

	cfg, err := config.Default()
	require.NoError(t, err)
	svc, err := backtest.NewService(backtest.ServiceConfig{
		Loader:   feedLoader{feed: feed},
		Metrics:  backtest.NewMetrics(),
		Defaults: cfg.Run,
	})
	require.NoError(t, err)
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Svc: svc})
	require.NoError(t, err)
	return srv, svc
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

const runBody = `{
  "symbol": "TEST",
  "interval": "1d",
  "start": "2021-01-04",
  "end": "2021-01-08",
  "starting_cash": 1000,
  "commission_rate": 0,
  "strategy": "rsi",
  "strategy_params": {"rsi_period": 2, "sma_fast": 2, "sma_slow": 3},
  "size": {"mode": "units", "value": 1}
}`

func TestRunLifecycle(t *testing.T) {
	srv, svc := newTestServer(t)

	rec, body := do(t, srv, http.MethodPost, "/api/runs", runBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	run := body["run"].(map[string]any)
	id := run["id"].(string)
	require.NotEmpty(t, id)
	svc.Wait()

	rec, body = do(t, srv, http.MethodGet, "/api/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	run = body["run"].(map[string]any)
	assert.Equal(t, "done", run["status"])
	report := run["report"].(map[string]any)
	assert.InDelta(t, 1003.0, report["ending_value"], 1e-9)

	rec, body = do(t, srv, http.MethodGet, "/api/runs/"+id+"/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["trades"], 1)

	rec, body = do(t, srv, http.MethodGet, "/api/runs/"+id+"/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["orders"], 2)

	rec, body = do(t, srv, http.MethodGet, "/api/runs/"+id+"/equity?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["equity"], 3)

	rec, body = do(t, srv, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 1)

	rec, _ = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tradesim_runs_total{status="done"} 1`)
}

func TestRunRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := map[string]string{
		"negative cash":    `{"starting_cash": -5}`,
		"negative comm":    `{"commission_rate": -0.1}`,
		"unknown field":    `{"cash": 100}`,
		"bad size mode":    `{"size": {"mode": "lots"}}`,
		"not json":         `{`,
		"unknown strategy": `{"strategy": "nope"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rec, body := do(t, srv, http.MethodPost, "/api/runs", payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestLookupsAndIndex(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := do(t, srv, http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "run not found")

	rec, _ = do(t, srv, http.MethodGet, "/api/runs/missing/orders", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, srv, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	for _, s := range body["strategies"].([]any) {
		names = append(names, s.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "rsi")

	rec, _ = do(t, srv, http.MethodGet, "/api/data?symbol=AAPL&interval=1d", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
