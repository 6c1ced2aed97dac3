// Package regime implements the per-symbol adaptive regime engine: it
// tracks a bounded tail of recent prices, estimates volatility and trend
// strength from them with gonum/stat, classifies a regime, and caches a
// parameter overlay the strategy synthesizer and order-book analyzer read
// their thresholds from.
package regime

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ksedatech/perp-sentinel/internal/cache"
	"github.com/ksedatech/perp-sentinel/internal/orderbook"
)

// cacheTimeout bounds each best-effort Redis round trip the overlay
// cache makes; a slow or unreachable cache must never stall a tick.
const cacheTimeout = time.Second

// Regime classifies the current volatility/trend state of a symbol.
type Regime string

const (
	RegimeTrendingUp    Regime = "TRENDING_UP"
	RegimeTrendingDown  Regime = "TRENDING_DOWN"
	RegimeRanging       Regime = "RANGING"
	RegimeHighVolatility Regime = "HIGH_VOLATILITY"
	RegimeLowVolatility Regime = "LOW_VOLATILITY"
)

// Thresholds configures the ordered decision table in classify.
type Thresholds struct {
	HighVolatility float64 // volatility above this -> HIGH_VOLATILITY
	LowVolatility  float64 // volatility below this -> LOW_VOLATILITY
	TrendStrength  float64 // |trend strength| above this -> TRENDING_*
	MaxHistory     int     // bounded tail length (spec: <= 100)
	OverlayTTL     time.Duration
}

func NewDefaultThresholds() Thresholds {
	return Thresholds{
		HighVolatility: 0.035,
		LowVolatility:  0.006,
		TrendStrength:  0.35,
		MaxHistory:     100,
		OverlayTTL:     60 * time.Second,
	}
}

// State is the bounded, mutex-guarded per-symbol regime state: a rolling
// price tail plus the last computed regime and its cached overlay.
type State struct {
	mu sync.Mutex

	prices []float64

	volatility    float64
	trendStrength float64
	current       Regime
	updatedAt     time.Time

	overlay      orderbook.Overlay
	overlayAt    time.Time
}

// Engine owns one State per symbol.
type Engine struct {
	thresholds Thresholds

	// cacheSvc mirrors each symbol's recomputed overlay into Redis and
	// is consulted as a warm-start source when a symbol's in-process
	// State has no history yet (e.g. right after a restart). It is
	// optional: a nil cacheSvc degrades to the in-process cache only,
	// exactly as it did before this field existed.
	cacheSvc *cache.Service

	mu     sync.Mutex
	states map[string]*State
}

func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{
		thresholds: thresholds,
		states:     make(map[string]*State),
	}
}

// SetCache wires a Redis-backed overlay cache behind the in-process one.
// Call once during construction; cacheSvc may be nil to disable it.
func (e *Engine) SetCache(cacheSvc *cache.Service) {
	e.cacheSvc = cacheSvc
}

func (e *Engine) stateFor(symbol string) *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[symbol]
	if !ok {
		st = &State{current: RegimeRanging}
		e.states[symbol] = st
	}
	return st
}

// Update appends the latest price to the symbol's bounded tail and
// recomputes volatility, trend strength and regime. It does not itself
// recompute the overlay; callers read Overlay (or ForceOverlay) next.
func (e *Engine) Update(symbol string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	st := e.stateFor(symbol)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.prices = append(st.prices, price)
	if max := e.thresholds.MaxHistory; len(st.prices) > max {
		st.prices = st.prices[len(st.prices)-max:]
	}

	st.volatility = volatilityOf(st.prices)
	st.trendStrength = trendStrengthOf(st.prices)
	st.current = classify(st.volatility, st.trendStrength, e.thresholds)
	st.updatedAt = time.Now()
}

// volatilityOf computes the stdev of consecutive log-returns scaled by
// sqrt(60), per the regime state's data-model definition.
func volatilityOf(prices []float64) float64 {
	if len(prices) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(60)
}

// trendStrengthOf fits a linear regression of price against tick index and
// normalizes the slope to [-1, 1] relative to the series' own mean price,
// so the same absolute slope reads as a stronger trend on a cheap asset
// than an expensive one.
func trendStrengthOf(prices []float64) float64 {
	if len(prices) < 3 {
		return 0
	}
	xs := make([]float64, len(prices))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, prices, nil, false)

	mean := stat.Mean(prices, nil)
	if mean == 0 {
		return 0
	}
	// slope is price-units-per-tick; scale by series length so a trend
	// that moves the whole window materially reads near +/-1.
	normalized := slope * float64(len(prices)) / mean
	return math.Min(1, math.Max(-1, normalized))
}

// classify applies the ordered regime decision table: first match wins.
func classify(volatility, trendStrength float64, t Thresholds) Regime {
	switch {
	case volatility > t.HighVolatility:
		return RegimeHighVolatility
	case volatility < t.LowVolatility:
		return RegimeLowVolatility
	case trendStrength > t.TrendStrength:
		return RegimeTrendingUp
	case trendStrength < -t.TrendStrength:
		return RegimeTrendingDown
	default:
		return RegimeRanging
	}
}

// Snapshot is the read-only view of a symbol's current regime state.
type Snapshot struct {
	Symbol        string
	Volatility    float64
	TrendStrength float64
	Regime        Regime
	UpdatedAt     time.Time
}

func (e *Engine) Snapshot(symbol string) Snapshot {
	st := e.stateFor(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return Snapshot{
		Symbol:        symbol,
		Volatility:    st.volatility,
		TrendStrength: st.trendStrength,
		Regime:        st.current,
		UpdatedAt:     st.updatedAt,
	}
}

// Overlay returns the cached parameter overlay for symbol, recomputing it
// if the cache has expired (60s, per the expiry window defined for the
// regime state). Failure to recompute (insufficient history) falls back
// to the static defaults and a RANGING label, never an error.
func (e *Engine) Overlay(symbol string) orderbook.Overlay {
	return e.overlayFor(symbol, false)
}

// ForceOverlay bypasses the cache and recomputes immediately, for callers
// that require a fresh overlay regardless of the TTL.
func (e *Engine) ForceOverlay(symbol string) orderbook.Overlay {
	return e.overlayFor(symbol, true)
}

func (e *Engine) overlayFor(symbol string, force bool) orderbook.Overlay {
	st := e.stateFor(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !force && time.Since(st.overlayAt) < e.thresholds.OverlayTTL && !st.overlayAt.IsZero() {
		return st.overlay
	}

	overlay, ok := deriveOverlay(st.current, st.volatility, st.trendStrength)
	if !ok {
		if cached, hit := e.readCachedOverlay(symbol); hit {
			st.overlay = cached
			st.overlayAt = time.Now()
			return cached
		}
		overlay = orderbook.DefaultOverlay()
		st.current = RegimeRanging
	}
	st.overlay = overlay
	st.overlayAt = time.Now()
	if ok {
		e.writeCachedOverlay(symbol, overlay)
	}
	return overlay
}

// readCachedOverlay consults the Redis-backed overlay cache, used as a
// warm-start fallback when a symbol's own history is too short to derive
// a fresh overlay (a cold State right after process start, most often).
func (e *Engine) readCachedOverlay(symbol string) (orderbook.Overlay, bool) {
	if e.cacheSvc == nil {
		return orderbook.Overlay{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	var cached orderbook.Overlay
	if err := e.cacheSvc.GetJSON(ctx, cache.RegimeOverlayKey(symbol), &cached); err != nil {
		return orderbook.Overlay{}, false
	}
	return cached, true
}

// writeCachedOverlay mirrors a freshly derived overlay into Redis,
// best-effort; a failed write never blocks or errors the caller since
// the in-process cache already served the value.
func (e *Engine) writeCachedOverlay(symbol string, overlay orderbook.Overlay) {
	if e.cacheSvc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	_ = e.cacheSvc.SetJSON(ctx, cache.RegimeOverlayKey(symbol), overlay, cache.DefaultRegimeOverlayTTL)
}

// deriveOverlay maps a regime and its driving statistics onto a Parameter
// Overlay, applied multiplicatively/overridingly atop the static defaults.
// It reports false (falling back to the caller) when the regime state
// hasn't accumulated enough history to trust the derived numbers.
func deriveOverlay(regime Regime, volatility, trendStrength float64) (orderbook.Overlay, bool) {
	base := orderbook.DefaultOverlay()
	if volatility == 0 && trendStrength == 0 {
		return base, false
	}

	switch regime {
	case RegimeHighVolatility:
		base.MaxSpreadPct *= 1.8
		base.MinLiquidity *= 1.4
		base.MinTradeConfidence += 0.10
		base.StopLossPct *= 1.5
		base.TakeProfitPct *= 1.3
		base.PositionSizeMultiplier *= 0.6
	case RegimeLowVolatility:
		base.StrongImbalance *= 0.85
		base.WeakImbalance *= 0.85
		base.StopLossPct *= 0.75
		base.TakeProfitPct *= 0.85
		base.PositionSizeMultiplier *= 1.1
	case RegimeTrendingUp, RegimeTrendingDown:
		base.MinTradeConfidence -= 0.05
		base.TakeProfitPct *= 1.25
		base.PositionSizeMultiplier *= 1.15
	case RegimeRanging:
		base.StrongImbalance *= 1.1
		base.MinTradeConfidence += 0.03
		base.PositionSizeMultiplier *= 0.9
	}

	base.MinTradeConfidence = math.Min(0.95, math.Max(0.3, base.MinTradeConfidence))
	base.PositionSizeMultiplier = math.Min(1.5, math.Max(0.3, base.PositionSizeMultiplier))
	return base, true
}
