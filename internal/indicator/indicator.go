// Package indicator computes the technical indicator set the strategy
// synthesizer reads, backed by github.com/markcheno/go-talib so MACD,
// Stochastic and ADX use the real recursive formulas instead of the
// single-point approximations common in naive hand-rolled versions.
package indicator

import (
	"errors"

	talib "github.com/markcheno/go-talib"

	"github.com/ksedatech/perp-sentinel/internal/exchange"
)

// ErrInsufficientData is returned when fewer candles are supplied than
// an indicator's lookback period requires.
var ErrInsufficientData = errors.New("indicator: insufficient candle history")

// MACDResult holds the MACD line, signal line and histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// BollingerBands holds the three Bollinger band values.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Stochastic holds the %K/%D stochastic oscillator values.
type Stochastic struct {
	K float64
	D float64
}

// VolumeStats holds the latest volume reading alongside its 20- and
// 50-period averages, the ratio of the two, and a boolean spike flag
// the volume-anomaly filter and synthesizer both read.
type VolumeStats struct {
	Current float64
	Avg20   float64
	Avg50   float64
	Ratio   float64 // Current / Avg20
	IsHigh  bool    // Ratio > 1.5
}

// Set is the full indicator snapshot computed for one symbol/timeframe
// at the latest candle: RSI at {7, 14, 21}; EMA pairs (5/13), (12/26),
// (20/50); MACD at (5,13,5) and (12,26,9); Bollinger Bands at
// (10, 1.5σ) and (20, 2σ); ATR at 7 and 14; SMA at {10, 20, 50}; and
// current/20-avg/50-avg volume stats.
type Set struct {
	SMA10 float64
	SMA20 float64
	SMA50 float64

	EMA5  float64
	EMA13 float64
	EMA12 float64
	EMA26 float64
	EMA20 float64
	EMA50 float64

	RSI7  float64
	RSI14 float64
	RSI21 float64

	MACDFast MACDResult // (5, 13, 5) — scalping default
	MACDSlow MACDResult // (12, 26, 9) — classic

	BBFast BollingerBands // (10, 1.5σ) — scalping default
	BBSlow BollingerBands // (20, 2σ) — classic

	ATR7  float64
	ATR14 float64

	Stoch Stochastic
	ADX14 float64

	Volume VolumeStats
}

func closes(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highs(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func lows(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func volumes(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// tailAvg averages the trailing n elements of series, or all of it if
// series is shorter than n.
func tailAvg(series []float64, n int) float64 {
	if len(series) == 0 {
		return 0
	}
	if n > len(series) {
		n = len(series)
	}
	tail := series[len(series)-n:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(len(tail))
}

// minCandles is the lookback the slowest indicator in Compute needs
// (MACD(12,26,9)'s 26-period slow EMA plus a 9-period signal smoothing,
// and the 50-period volume average) plus a buffer so every series has
// warmed up past its startup transient.
const minCandles = 60

// Compute derives the full indicator Set from candle history, latest
// candle last. It returns ErrInsufficientData rather than silently
// returning zeroed indicators, so the strategy synthesizer can treat
// "not enough history yet" as a HOLD instead of a false neutral reading.
func Compute(candles []exchange.Candle) (*Set, error) {
	if len(candles) < minCandles {
		return nil, ErrInsufficientData
	}

	c := closes(candles)
	h := highs(candles)
	l := lows(candles)
	v := volumes(candles)

	sma10 := talib.Sma(c, 10)
	sma20 := talib.Sma(c, 20)
	sma50 := talib.Sma(c, 50)

	ema5 := talib.Ema(c, 5)
	ema13 := talib.Ema(c, 13)
	ema12 := talib.Ema(c, 12)
	ema26 := talib.Ema(c, 26)
	ema20 := talib.Ema(c, 20)
	ema50 := talib.Ema(c, 50)

	rsi7 := talib.Rsi(c, 7)
	rsi14 := talib.Rsi(c, 14)
	rsi21 := talib.Rsi(c, 21)

	macdFast, macdFastSignal, macdFastHist := talib.Macd(c, 5, 13, 5)
	macdSlow, macdSlowSignal, macdSlowHist := talib.Macd(c, 12, 26, 9)

	bbFastUpper, bbFastMiddle, bbFastLower := talib.BBands(c, 10, 1.5, 1.5, talib.SMA)
	bbSlowUpper, bbSlowMiddle, bbSlowLower := talib.BBands(c, 20, 2, 2, talib.SMA)

	atr7 := talib.Atr(h, l, c, 7)
	atr14 := talib.Atr(h, l, c, 14)

	stochK, stochD := talib.Stoch(h, l, c, 14, 3, talib.SMA, 3, talib.SMA)
	adx14 := talib.Adx(h, l, c, 14)

	currentVolume := last(v)
	avg20 := tailAvg(v, 20)
	avg50 := tailAvg(v, 50)
	ratio := 0.0
	if avg20 > 0 {
		ratio = currentVolume / avg20
	}

	return &Set{
		SMA10: last(sma10), SMA20: last(sma20), SMA50: last(sma50),
		EMA5: last(ema5), EMA13: last(ema13), EMA12: last(ema12),
		EMA26: last(ema26), EMA20: last(ema20), EMA50: last(ema50),
		RSI7: last(rsi7), RSI14: last(rsi14), RSI21: last(rsi21),
		MACDFast: MACDResult{MACD: last(macdFast), Signal: last(macdFastSignal), Histogram: last(macdFastHist)},
		MACDSlow: MACDResult{MACD: last(macdSlow), Signal: last(macdSlowSignal), Histogram: last(macdSlowHist)},
		BBFast:   BollingerBands{Upper: last(bbFastUpper), Middle: last(bbFastMiddle), Lower: last(bbFastLower)},
		BBSlow:   BollingerBands{Upper: last(bbSlowUpper), Middle: last(bbSlowMiddle), Lower: last(bbSlowLower)},
		ATR7:     last(atr7),
		ATR14:    last(atr14),
		Stoch:    Stochastic{K: last(stochK), D: last(stochD)},
		ADX14:    last(adx14),
		Volume: VolumeStats{
			Current: currentVolume,
			Avg20:   avg20,
			Avg50:   avg50,
			Ratio:   ratio,
			IsHigh:  ratio > 1.5,
		},
	}, nil
}

// Trend classifies a fast/slow EMA pair as up, down, or flat, used by
// the strategy synthesizer's trend-alignment bonus.
type Trend string

const (
	TrendUp   Trend = "UP"
	TrendDown Trend = "DOWN"
	TrendFlat Trend = "FLAT"
)

// emaTrendBand is the dead zone around zero, expressed as a fraction of
// the slow EMA, below which the fast/slow spread is noise rather than a
// directional signal: |fast-slow|/slow must exceed 0.2% either way.
const emaTrendBand = 0.002

// EMATrend classifies the dominant trend from the scalping-default
// EMA 5/13 pair: |fast-slow|/slow > 0.2% either way is directional,
// otherwise flat.
func (s *Set) EMATrend() Trend {
	if s.EMA13 == 0 {
		return TrendFlat
	}
	diff := (s.EMA5 - s.EMA13) / s.EMA13
	switch {
	case diff > emaTrendBand:
		return TrendUp
	case diff < -emaTrendBand:
		return TrendDown
	default:
		return TrendFlat
	}
}

// IsOverbought reports whether RSI and Stochastic both sit in overbought territory.
func (s *Set) IsOverbought() bool { return s.RSI14 >= 70 && s.Stoch.K >= 80 }

// IsOversold reports whether RSI and Stochastic both sit in oversold territory.
func (s *Set) IsOversold() bool { return s.RSI14 <= 30 && s.Stoch.K <= 20 }

// BandwidthPercent returns the classic (20, 2σ) Bollinger band width as
// a percentage of the middle band, a cheap proxy for volatility
// expansion/contraction.
func (s *Set) BandwidthPercent() float64 {
	if s.BBSlow.Middle == 0 {
		return 0
	}
	return (s.BBSlow.Upper - s.BBSlow.Lower) / s.BBSlow.Middle * 100
}
