package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/circuit"
	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/exchange"
	"github.com/ksedatech/perp-sentinel/internal/execution"
	"github.com/ksedatech/perp-sentinel/internal/ledger"
)

type stubBacktest struct{ started bool }

func (s *stubBacktest) Start(context.Context, string, time.Time, time.Time) error { s.started = true; return nil }
func (s *stubBacktest) Stop()                                                     {}
func (s *stubBacktest) Status() (bool, float64, map[string]interface{})           { return false, 0, nil }

func newTestServer(t *testing.T, authEnabled bool) *Server {
	t.Helper()
	bus := events.NewBus()
	breaker := circuit.New(config.CircuitBreakerConfig{Enabled: true, MaxConsecutiveLosses: 5, MaxLossPerHourPct: 100, MaxDailyLossPct: 100, MaxTradesPerMinute: 1000, CooldownMinutes: 5}, bus)
	posLedger := ledger.NewLedger(10000, 5)
	client := exchange.NewMockClient(10000, func(string) (float64, error) { return 50000, nil })
	gateway := execution.NewGateway(client, bus)

	hash, err := HashAdminPassword("correct-horse-battery-staple")
	require.NoError(t, err)

	cfg := config.ServerConfig{
		Host: "127.0.0.1", Port: 0, JWTSecret: "test-secret", AuthEnabled: authEnabled,
		AdminPasswordHash: hash, TokenTTL: time.Hour,
		ReadTimeout: time.Second, WriteTimeout: time.Second, ShutdownTimeout: time.Second,
	}
	return New(cfg, bus, posLedger, breaker, client, gateway, nil, nil, &stubBacktest{})
}

func TestHandleAccount_ReturnsBalanceAndEquity(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "balance")
}

func TestCloseAll_WithNoOpenPositionsReturnsEmptyResults(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/trades/close-all", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())
}

func TestMutatingEndpoint_RejectsRequestWithoutBearerTokenWhenAuthEnabled(t *testing.T) {
	s := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMutatingEndpoint_AcceptsValidBearerToken(t *testing.T) {
	s := newTestServer(t, true)
	token, err := MintOperatorToken("test-secret", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleLogin_RejectsWrongPassword(t *testing.T) {
	s := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleLogin_IssuesTokenForCorrectPassword(t *testing.T) {
	s := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"password":"correct-horse-battery-staple"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "token")
}

func TestHandleMarketSnapshot_404sWhenCacheDisabled(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/market/BTCUSDT", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleBacktestRun_RejectsMalformedBody(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/backtest/run", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
