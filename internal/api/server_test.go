package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/executor"
	"github.com/betbot/gosignal/internal/journal"
	"github.com/betbot/gosignal/internal/ledger"
	"github.com/betbot/gosignal/internal/metrics"
	"github.com/betbot/gosignal/internal/risk"
)

type fixture struct {
	router  http.Handler
	ledger  *ledger.Ledger
	breaker *risk.CircuitBreaker
	exec    *executor.Executor
	journal *journal.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	led, err := ledger.New(nil)
	require.NoError(t, err)
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	breaker := risk.NewCircuitBreaker(risk.DefaultCircuitBreakerConfig(), time.Now)
	exec := executor.New(executor.Config{}, executor.Deps{Ledger: led, Breaker: breaker, Journal: j})

	srv := New(Deps{
		Executor:  exec,
		Positions: led,
		Breaker:   breaker,
		Journal:   j,
		Metrics:   metrics.Handler(),
	})
	return &fixture{router: srv.Router(), ledger: led, breaker: breaker, exec: exec, journal: j}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)

	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gosignal_")
}

func TestPositions(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.OpenPosition(ledger.OpenRequest{
		MarketID: "m1", TokenID: "y", Outcome: "YES", Strategy: "pairarb",
		Price: decimal.RequireFromString("0.4"), Quantity: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/positions?status=open", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/positions?status=closed", "")
	assert.EqualValues(t, 0, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/positions?market=other", "")
	assert.EqualValues(t, 0, decode(t, w)["count"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/positions?status=weird", "").Code)
}

func TestBreakerTripAndReset(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/breaker/trip", `{"reason":"ops"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, risk.StateTripped, f.breaker.State())
	assert.Equal(t, "manual: ops", f.breaker.Stats().TripReason)

	w = f.do(t, http.MethodPost, "/api/breaker/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, risk.StateArmed, f.breaker.State())
}

func TestKillSwitchAndExecutions(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/kill", `{}`).Code)
	w := f.do(t, http.MethodPost, "/api/kill", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.exec.Stats().KillSwitch)

	sig := domain.StrategySignal{
		Strategy:    "pairarb",
		Opportunity: domain.Opportunity{Metadata: map[string]any{domain.MetaMarketID: "m1"}},
		Trades: []domain.Trade{{TokenID: "y", Side: domain.SideBuy, Size: decimal.NewFromInt(5),
			Price: decimal.RequireFromString("0.4"), TimeInForce: domain.FOK}},
	}
	res := f.exec.ExecuteSignal(t.Context(), sig, nil)
	require.Equal(t, executor.ReasonKillSwitch, res.Reason)

	w = f.do(t, http.MethodGet, "/api/executions?failed=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])
	rows := body["executions"].([]any)
	assert.Equal(t, executor.ReasonKillSwitch, rows[0].(map[string]any)["reason"])

	w = f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Contains(t, status, "executor")
	assert.Contains(t, status, "breaker")

	w = f.do(t, http.MethodGet, "/api/resolutions", "")
	assert.EqualValues(t, 0, decode(t, w)["count"])
}
