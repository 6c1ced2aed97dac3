package strategy

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ksedatech/perp-sentinel/internal/indicator"
	"github.com/ksedatech/perp-sentinel/internal/orderbook"
)

func bullishIndicators() *indicator.Set {
	return &indicator.Set{EMA5: 101, EMA13: 100, EMA50: 99, MACDSlow: indicator.MACDResult{Histogram: 0.5}}
}

func bearishIndicators() *indicator.Set {
	return &indicator.Set{EMA5: 99, EMA13: 100, EMA50: 101, MACDSlow: indicator.MACDResult{Histogram: -0.5}}
}

func imbalancedUpBook() *orderbook.Analysis {
	return &orderbook.Analysis{
		Imbalance: 0.40, State: orderbook.StateImbalancedUp,
		BidPressure: 0.7, AskPressure: 0.3,
	}
}

func TestOrderBookMode_S1_TrendFollowingBuy(t *testing.T) {
	s := NewSynthesizer(ModeOrderBook, nil, 0.55)
	sig := s.Signal(context.Background(), Input{
		Symbol: "BTCUSDT", Price: 50000,
		Indicators: bullishIndicators(),
		OrderBook:  imbalancedUpBook(),
		Overlay:    orderbook.DefaultOverlay(),
	})

	assert.Equal(t, Buy, sig.Decision)
	assert.Greater(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestOrderBookMode_S2_CounterTrendVeto(t *testing.T) {
	s := NewSynthesizer(ModeOrderBook, nil, 0.55)
	sig := s.Signal(context.Background(), Input{
		Symbol: "BTCUSDT", Price: 50000,
		Indicators: bearishIndicators(),
		OrderBook:  imbalancedUpBook(),
		Overlay:    orderbook.DefaultOverlay(),
	})

	assert.Equal(t, Hold, sig.Decision)
	assert.Contains(t, sig.Reasoning, "COUNTER-TREND")
}

func TestOrderBookMode_ConsolidationHolds(t *testing.T) {
	s := NewSynthesizer(ModeOrderBook, nil, 0.55)
	sig := s.Signal(context.Background(), Input{
		Indicators: bullishIndicators(),
		OrderBook:  &orderbook.Analysis{State: orderbook.StateConsolidation},
		Overlay:    orderbook.DefaultOverlay(),
	})

	assert.Equal(t, Hold, sig.Decision)
}

func TestOrderBookMode_AbsorptionHolds(t *testing.T) {
	s := NewSynthesizer(ModeOrderBook, nil, 0.55)
	sig := s.Signal(context.Background(), Input{
		Indicators: bullishIndicators(),
		OrderBook:  &orderbook.Analysis{State: orderbook.StateImbalancedUp, Imbalance: 0.5, AbsorptionFlag: true},
		Overlay:    orderbook.DefaultOverlay(),
	})

	assert.Equal(t, Hold, sig.Decision)
	assert.Contains(t, sig.Reasoning, "absorption")
}

func TestContrarianSwitch_SwapsBuySellPreservesHold(t *testing.T) {
	s := NewSynthesizer(ModeOrderBook, nil, 0.55)

	sig := s.Signal(context.Background(), Input{
		Indicators: bullishIndicators(),
		OrderBook:  imbalancedUpBook(),
		Overlay:    orderbook.DefaultOverlay(),
		Contrarian: true,
	})
	assert.Equal(t, Sell, sig.Decision)

	holdSig := s.Signal(context.Background(), Input{
		Indicators: bullishIndicators(),
		OrderBook:  &orderbook.Analysis{State: orderbook.StateConsolidation},
		Overlay:    orderbook.DefaultOverlay(),
		Contrarian: true,
	})
	assert.Equal(t, Hold, holdSig.Decision)
}

func TestDecisionTotality_NeverNaNOrOutOfRange(t *testing.T) {
	s := NewSynthesizer(ModeOrderBook, nil, 0.55)
	sig := s.Signal(context.Background(), Input{})

	switch sig.Decision {
	case Buy, Sell, Hold:
	default:
		t.Fatalf("unexpected decision %q", sig.Decision)
	}
	assert.False(t, math.IsNaN(sig.Confidence))
	assert.GreaterOrEqual(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestWaveSurfingMode_NoSignalHolds(t *testing.T) {
	s := NewSynthesizer(ModeWaveSurfing, nil, 0.55)
	sig := s.Signal(context.Background(), Input{})
	assert.Equal(t, Hold, sig.Decision)
}

func TestWaveSurfingMode_UsesAntiSpoofingBias(t *testing.T) {
	s := NewSynthesizer(ModeWaveSurfing, nil, 0.55)
	sig := s.Signal(context.Background(), Input{
		AntiSpoofing: &SpoofingSignal{Direction: Buy, Confidence: 0.66, Reasoning: "large bid spoof withdrawn"},
	})
	assert.Equal(t, Buy, sig.Decision)
	assert.InDelta(t, 0.66, sig.Confidence, 1e-9)
}
