package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/circuit"
	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/exchange"
	"github.com/ksedatech/perp-sentinel/internal/execution"
	"github.com/ksedatech/perp-sentinel/internal/filters"
	"github.com/ksedatech/perp-sentinel/internal/ledger"
	"github.com/ksedatech/perp-sentinel/internal/orderbook"
	"github.com/ksedatech/perp-sentinel/internal/regime"
	"github.com/ksedatech/perp-sentinel/internal/strategy"
)

// capturingRecorder stores every DecisionRecord it receives, for tests
// that need to assert on the persisted-once-per-tick invariant.
type capturingRecorder struct {
	mu      sync.Mutex
	records []DecisionRecord
}

func (c *capturingRecorder) RecordDecision(_ context.Context, rec DecisionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *capturingRecorder) last() DecisionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[len(c.records)-1]
}

func (c *capturingRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func baseTestConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			Symbols:             []string{"BTCUSDT"},
			Mode:                "ORDER_BOOK",
			DryRun:              true,
			StartingBalance:     10000,
			PositionSizePercent: 5,
			MaxOpenPositions:    5,
			DefaultLeverage:     5,
			MaxReversalsPerHour:   3,
			MinConsecutiveSignals: 1,
			QuickExitSignals:      1,
		},
		Risk: config.RiskConfig{
			MaxDailyTrades:      20,
			MaxDailyLossPercent: 50,
			MinConfidence:       0.5,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			Enabled:              true,
			MaxLossPerHourPct:    100,
			MaxConsecutiveLosses: 5,
			CooldownMinutes:      30,
			MaxDailyLossPct:      100,
			MaxTradesPerMinute:   1000,
		},
	}
}

// newTestOrchestrator wires a full pipeline against a MockClient so tests
// never touch the network.
func newTestOrchestrator(cfg *config.Config, client exchange.Client, rec Recorder) *Orchestrator {
	bus := events.NewBus()
	breaker := circuit.New(cfg.CircuitBreaker, bus)
	posLedger := ledger.NewLedger(cfg.Trading.StartingBalance, cfg.Trading.MaxOpenPositions)
	regimeEngine := regime.NewEngine(regime.NewDefaultThresholds())
	obAnalyzer := orderbook.NewAnalyzer(orderbook.NewDefaultConfig())
	synth := strategy.NewSynthesizer(strategy.Mode(cfg.Trading.Mode), nil, cfg.Risk.MinConfidence)
	filterStack := filters.NewStack(filters.NewDefaultConfig())
	gateway := execution.NewGateway(client, bus)
	return New(cfg, client, bus, breaker, posLedger, regimeEngine, obAnalyzer, synth, filterStack, gateway, rec)
}

func TestTick_RecordsHoldWhenNoCandleHistory(t *testing.T) {
	cfg := baseTestConfig()
	client := exchange.NewMockClient(10000, nil) // no candles seeded
	rec := &capturingRecorder{}
	o := newTestOrchestrator(cfg, client, rec)

	o.tick(context.Background(), "BTCUSDT")

	require.Equal(t, 1, rec.count())
	got := rec.last()
	assert.Equal(t, strategy.Hold, got.Decision)
	assert.Contains(t, got.Reasoning, "market data fetch failed")
}

func TestTick_RecordsHoldWhenCircuitBreakerOpen(t *testing.T) {
	cfg := baseTestConfig()
	cfg.CircuitBreaker.MaxConsecutiveLosses = 1
	client := exchange.NewMockClient(10000, nil)
	rec := &capturingRecorder{}
	o := newTestOrchestrator(cfg, client, rec)

	o.breaker.RecordTrade(-5) // one loss trips the breaker immediately
	o.tick(context.Background(), "BTCUSDT")

	require.Equal(t, 1, rec.count())
	got := rec.last()
	assert.Equal(t, strategy.Hold, got.Decision)
	assert.Contains(t, got.Reasoning, "circuit breaker")
}

func TestTick_RecordsHoldWhenDailyTradeCapReached(t *testing.T) {
	cfg := baseTestConfig()
	cfg.Risk.MaxDailyTrades = 0
	client := exchange.NewMockClient(10000, nil)
	rec := &capturingRecorder{}
	o := newTestOrchestrator(cfg, client, rec)

	o.tick(context.Background(), "BTCUSDT")

	require.Equal(t, 1, rec.count())
	assert.Contains(t, rec.last().Reasoning, "daily trade cap")
}

func TestTick_ExactlyOnePersistedRecordPerTick(t *testing.T) {
	cfg := baseTestConfig()
	client := exchange.NewMockClient(10000, func(string) (float64, error) { return 50000, nil })
	rec := &capturingRecorder{}
	o := newTestOrchestrator(cfg, client, rec)

	candles := make([]exchange.Candle, 120)
	price := 50000.0
	for i := range candles {
		candles[i] = exchange.Candle{Open: price, High: price * 1.001, Low: price * 0.999, Close: price, Volume: 10}
		price *= 1.0001
	}
	client.SeedCandles("BTCUSDT", candles)

	o.tickAll(context.Background())

	assert.Equal(t, 1, rec.count(), "exactly one decision record must be persisted per symbol per tick")
}

func TestSideFor_MapsDecisionToPositionSide(t *testing.T) {
	assert.Equal(t, exchange.SideLong, sideFor(strategy.Buy))
	assert.Equal(t, exchange.SideShort, sideFor(strategy.Sell))
}

func TestPositionQuantity_ScalesWithMultipliersAndZerosOnBadPrice(t *testing.T) {
	q := positionQuantity(10000, 5, 1.0, 1.0, 50000, 5)
	assert.Greater(t, q, 0.0)

	assert.Equal(t, 0.0, positionQuantity(10000, 5, 1.0, 1.0, 0, 5))
}

func TestSymbolState_TailAllRequiresExactRunLength(t *testing.T) {
	st := newSymbolState()
	st.pushSignal(strategy.Buy)
	st.pushSignal(strategy.Buy)
	st.pushSignal(strategy.Sell)

	assert.False(t, st.tailAll(2, strategy.Buy), "last two entries are Buy,Sell not Buy,Buy")
	assert.True(t, st.tailAll(1, strategy.Sell))
	assert.False(t, st.tailAll(5, strategy.Sell), "fewer than 5 entries exist")
}

func TestSymbolState_RingBufferBounded(t *testing.T) {
	st := newSymbolState()
	for i := 0; i < stabilityRingSize+5; i++ {
		st.pushSignal(strategy.Buy)
	}
	assert.Len(t, st.signalHistory, stabilityRingSize)
}

func TestSymbolState_PruneReversalsDropsExpiredEntries(t *testing.T) {
	st := newSymbolState()
	now := time.Now()
	st.reversalTimestamps = []time.Time{now.Add(-2 * time.Hour), now.Add(-10 * time.Minute)}

	st.pruneReversals(now)

	require.Len(t, st.reversalTimestamps, 1)
	assert.True(t, st.reversalTimestamps[0].After(now.Add(-time.Hour)))
}
