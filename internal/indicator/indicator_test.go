package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/internal/exchange"
)

func syntheticCandles(n int, start, step float64) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	price := start
	now := time.Now()
	for i := 0; i < n; i++ {
		price += step
		candles[i] = exchange.Candle{
			OpenTime: now.Add(time.Duration(i) * time.Minute),
			Open:     price, High: price + 1, Low: price - 1, Close: price,
			Volume: 100,
		}
	}
	return candles
}

func TestCompute_InsufficientData(t *testing.T) {
	_, err := Compute(syntheticCandles(10, 100, 1))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCompute_UptrendClassifiesTrendUp(t *testing.T) {
	set, err := Compute(syntheticCandles(80, 100, 0.5))
	require.NoError(t, err)
	assert.Equal(t, TrendUp, set.EMATrend())
	assert.Greater(t, set.EMA5, set.EMA13)
}

func TestCompute_FlatSeriesHasNoStrongTrend(t *testing.T) {
	set, err := Compute(syntheticCandles(80, 100, 0))
	require.NoError(t, err)
	assert.Equal(t, TrendFlat, set.EMATrend())
}

func TestEMATrend_Idempotent(t *testing.T) {
	set, err := Compute(syntheticCandles(80, 100, 0.5))
	require.NoError(t, err)
	first := set.EMATrend()
	second := set.EMATrend()
	assert.Equal(t, first, second)
}

// TestEMATrend_Monotonicity covers spec property 2: fast/slow ratios of
// 1.003, 1.000, 0.997 classify bullish, neutral, bearish respectively.
func TestEMATrend_Monotonicity(t *testing.T) {
	bullish := (&Set{EMA5: 100.3, EMA13: 100}).EMATrend()
	neutral := (&Set{EMA5: 100.0, EMA13: 100}).EMATrend()
	bearish := (&Set{EMA5: 99.7, EMA13: 100}).EMATrend()

	assert.Equal(t, TrendUp, bullish)
	assert.Equal(t, TrendFlat, neutral)
	assert.Equal(t, TrendDown, bearish)
}

func TestCompute_PopulatesEveryRequiredPeriodAndVolumeStats(t *testing.T) {
	set, err := Compute(syntheticCandles(80, 100, 0.5))
	require.NoError(t, err)

	assert.NotZero(t, set.SMA10)
	assert.NotZero(t, set.SMA20)
	assert.NotZero(t, set.SMA50)
	assert.NotZero(t, set.EMA5)
	assert.NotZero(t, set.EMA13)
	assert.NotZero(t, set.EMA12)
	assert.NotZero(t, set.EMA26)
	assert.NotZero(t, set.EMA20)
	assert.NotZero(t, set.EMA50)
	assert.NotZero(t, set.RSI7)
	assert.NotZero(t, set.RSI14)
	assert.NotZero(t, set.RSI21)
	assert.NotZero(t, set.ATR7)
	assert.NotZero(t, set.ATR14)

	assert.InDelta(t, 100.0, set.Volume.Current, 1e-9)
	assert.InDelta(t, 100.0, set.Volume.Avg20, 1e-9)
	assert.InDelta(t, 100.0, set.Volume.Avg50, 1e-9)
	assert.InDelta(t, 1.0, set.Volume.Ratio, 1e-9)
	assert.False(t, set.Volume.IsHigh)
}

func TestCompute_FlagsHighVolumeSpike(t *testing.T) {
	candles := syntheticCandles(80, 100, 0.5)
	candles[len(candles)-1].Volume = 500 // 5x the 100-unit baseline

	set, err := Compute(candles)
	require.NoError(t, err)

	assert.Greater(t, set.Volume.Ratio, 1.5)
	assert.True(t, set.Volume.IsHigh)
}
