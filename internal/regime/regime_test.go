package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngine_RisingSeriesClassifiesTrendingUp(t *testing.T) {
	e := NewEngine(NewDefaultThresholds())
	// Steady uptrend with alternating noise: a pure 1.00x-per-tick ramp has
	// zero realized volatility and gets swallowed by the LOW_VOLATILITY
	// branch before the trend check ever runs, so the fixture needs enough
	// noise to land volatility between the low/high thresholds.
	price := 100.0
	for i := 0; i < 80; i++ {
		drift, noise := 0.006, 0.003
		if i%2 != 0 {
			noise = -0.002
		}
		price *= 1 + drift + noise
		e.Update("BTCUSDT", price)
	}

	snap := e.Snapshot("BTCUSDT")
	assert.Equal(t, RegimeTrendingUp, snap.Regime)
	assert.Greater(t, snap.TrendStrength, 0.0)
}

func TestEngine_FlatSeriesHasZeroVolatilityAndNoTrend(t *testing.T) {
	e := NewEngine(NewDefaultThresholds())
	for i := 0; i < 80; i++ {
		e.Update("BTCUSDT", 100.0)
	}

	snap := e.Snapshot("BTCUSDT")
	assert.Equal(t, RegimeLowVolatility, snap.Regime)
	assert.Equal(t, 0.0, snap.Volatility)
	assert.Equal(t, 0.0, snap.TrendStrength)
}

func TestEngine_NoisySeriesClassifiesHighVolatility(t *testing.T) {
	e := NewEngine(NewDefaultThresholds())
	prices := []float64{100, 130, 80, 140, 70, 150, 60, 160, 55, 170}
	for i := 0; i < 3; i++ {
		for _, p := range prices {
			e.Update("BTCUSDT", p)
		}
	}

	snap := e.Snapshot("BTCUSDT")
	assert.Equal(t, RegimeHighVolatility, snap.Regime)
}

func TestEngine_OverlayFallsBackOnInsufficientHistory(t *testing.T) {
	e := NewEngine(NewDefaultThresholds())
	e.Update("ETHUSDT", 2000)

	overlay := e.Overlay("ETHUSDT")
	assert.Greater(t, overlay.StrongImbalance, 0.0)
	assert.Equal(t, RegimeRanging, e.Snapshot("ETHUSDT").Regime)
}

func TestEngine_ForceOverlayBypassesCache(t *testing.T) {
	e := NewEngine(NewDefaultThresholds())
	price := 100.0
	for i := 0; i < 80; i++ {
		price *= 1.003
		e.Update("BTCUSDT", price)
	}

	cached := e.Overlay("BTCUSDT")
	fresh := e.ForceOverlay("BTCUSDT")
	assert.Equal(t, cached.PositionSizeMultiplier, fresh.PositionSizeMultiplier)
}
