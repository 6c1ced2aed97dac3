package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/exchange"
)

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

// historyClient serves a fixed, pre-generated candle history from
// GetHistoricalCandles, and nothing else; the Runner never calls its
// other methods directly (those go through the isolated MockClient).
type historyClient struct {
	exchange.Client
	candles []exchange.Candle
}

func (h *historyClient) GetHistoricalCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]exchange.Candle, error) {
	return h.candles, nil
}

func genCandles(n int, start float64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	price := start
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price += 0.1
		out[i] = exchange.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute), CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 10,
		}
	}
	return out
}

func TestStart_RejectsWhenHistoryShorterThanWarmup(t *testing.T) {
	cfg := baseTestConfig()
	bus := events.NewBus()
	client := &historyClient{candles: genCandles(10, 100)}
	r := NewRunner(cfg, client, bus)

	err := r.Start(context.Background(), "BTCUSDT", time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestStart_RejectsConcurrentReplay(t *testing.T) {
	cfg := baseTestConfig()
	bus := events.NewBus()
	client := &historyClient{candles: genCandles(200, 100)}
	r := NewRunner(cfg, client, bus)

	require.NoError(t, r.Start(context.Background(), "BTCUSDT", time.Now(), time.Now()))
	err := r.Start(context.Background(), "BTCUSDT", time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	r.Stop()
}

func TestReplay_RunsToCompletionAndProducesSummary(t *testing.T) {
	cfg := baseTestConfig()
	bus := events.NewBus()
	client := &historyClient{candles: genCandles(120, 100)}
	r := NewRunner(cfg, client, bus)

	require.NoError(t, r.Start(context.Background(), "BTCUSDT", time.Now(), time.Now()))

	require.Eventually(t, func() bool {
		running, _, _ := r.Status()
		return !running
	}, 5*time.Second, 10*time.Millisecond)

	running, progress, summary := r.Status()
	assert.False(t, running)
	assert.Equal(t, float64(100), progress)
	require.NotNil(t, summary)
	assert.Equal(t, "BTCUSDT", summary["symbol"])
}

func TestStop_HaltsReplayBeforeItReachesTheEnd(t *testing.T) {
	cfg := baseTestConfig()
	bus := events.NewBus()
	client := &historyClient{candles: genCandles(5000, 100)}
	r := NewRunner(cfg, client, bus)

	require.NoError(t, r.Start(context.Background(), "BTCUSDT", time.Now(), time.Now()))
	r.Stop()

	require.Eventually(t, func() bool {
		running, _, _ := r.Status()
		return !running
	}, 5*time.Second, 10*time.Millisecond)

	_, progress, summary := r.Status()
	require.NotNil(t, summary)
	assert.Less(t, progress, float64(100))
}
