package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/internal/exchange"
)

// bookWithImbalance builds a synthetic 10-level book around mid whose top-K
// bid/ask size ratio produces approximately the requested imbalance ratio,
// with a tight symmetric spread.
func bookWithImbalance(symbol string, mid, imbalance float64) *exchange.OrderBook {
	// bidSum - askSum = imbalance * (bidSum + askSum); hold bidSum+askSum fixed.
	total := 100.0
	bidSum := total * (1 + imbalance) / 2
	askSum := total - bidSum

	ob := &exchange.OrderBook{Symbol: symbol, Timestamp: time.Now()}
	perBid, perAsk := bidSum/10, askSum/10
	spread := mid * 0.0002
	for i := 0; i < 10; i++ {
		step := float64(i) * spread
		ob.Bids = append(ob.Bids, exchange.OrderBookLevel{Price: mid - spread/2 - step, Quantity: perBid})
		ob.Asks = append(ob.Asks, exchange.OrderBookLevel{Price: mid + spread/2 + step, Quantity: perAsk})
	}
	return ob
}

func TestAnalyze_ImbalancedUp_S1(t *testing.T) {
	a := NewAnalyzer(NewDefaultConfig())
	ob := bookWithImbalance("BTCUSDT", 50000, 0.40)

	res := a.Analyze(ob, DefaultOverlay())

	assert.InDelta(t, 0.40, res.Imbalance, 1e-9)
	assert.Equal(t, StateImbalancedUp, res.State)
	assert.Greater(t, res.BidPressure, res.AskPressure)
	assert.InDelta(t, 1.0, res.BidPressure+res.AskPressure, 1e-9)
}

func TestAnalyze_BalancedBookIsConsolidationOrBalanced(t *testing.T) {
	a := NewAnalyzer(NewDefaultConfig())
	ob := bookWithImbalance("BTCUSDT", 50000, 0.02)

	res := a.Analyze(ob, DefaultOverlay())

	assert.Equal(t, StateConsolidation, res.State)
	assert.Less(t, res.SpreadPct, NewDefaultConfig().TightSpreadPct)
}

func TestAnalyze_BreakoutConfirmedOnSecondDrive(t *testing.T) {
	a := NewAnalyzer(NewDefaultConfig())
	overlay := DefaultOverlay()

	first := a.Analyze(bookWithImbalance("BTCUSDT", 50000, 0.40), overlay)
	require.Equal(t, StateImbalancedUp, first.State)
	require.False(t, first.BreakoutFlag)

	second := a.Analyze(bookWithImbalance("BTCUSDT", 50010, 0.45), overlay)
	assert.Equal(t, StateImbalancedUp, second.State)
	assert.True(t, second.BreakoutFlag)
}

func TestAnalyze_LiquidityScoreBounded(t *testing.T) {
	a := NewAnalyzer(NewDefaultConfig())
	ob := bookWithImbalance("BTCUSDT", 50000, 0.0)

	res := a.Analyze(ob, DefaultOverlay())

	assert.GreaterOrEqual(t, res.LiquidityScore, 0.0)
	assert.LessOrEqual(t, res.LiquidityScore, 100.0)
}

func TestAnalyze_EmptyBookDoesNotPanic(t *testing.T) {
	a := NewAnalyzer(NewDefaultConfig())
	ob := &exchange.OrderBook{Symbol: "BTCUSDT", Timestamp: time.Now()}

	assert.NotPanics(t, func() {
		a.Analyze(ob, DefaultOverlay())
	})
}
