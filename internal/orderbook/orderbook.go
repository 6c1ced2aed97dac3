// Package orderbook derives order-book microstructure signals — imbalance,
// pressure, walls, liquidity, market state, breakout confirmation and
// absorption — from raw L2 snapshots, and defines the parameter overlay
// type the regime engine derives and the analyzer and strategy
// synthesizer read their thresholds from.
package orderbook

import (
	"math"
	"time"

	"github.com/ksedatech/perp-sentinel/internal/exchange"
)

// MarketState classifies the current order-book regime.
type MarketState string

const (
	StateConsolidation  MarketState = "CONSOLIDATION"
	StateImbalancedUp   MarketState = "IMBALANCED_UP"
	StateImbalancedDown MarketState = "IMBALANCED_DOWN"
	StateBalanced       MarketState = "BALANCED"
)

// Wall is a single resting level whose size dwarfs its neighbours.
type Wall struct {
	Price      float64
	Size       float64
	DistancePct float64 // |price - mid| / mid * 100
}

// Overlay is the Parameter Overlay the regime engine derives and Analyze
// takes as input: a set of multiplicative/overriding adjustments to the
// strategy's static defaults.
type Overlay struct {
	StrongImbalance      float64
	WeakImbalance        float64
	MaxSpreadPct         float64
	MinLiquidity         float64
	PressureThreshold    float64
	MinTradeConfidence   float64
	StopLossPct          float64
	TakeProfitPct        float64
	PositionSizeMultiplier float64
}

// DefaultOverlay returns the static fallback overlay applied when no
// sharper regime- or order-book-derived overlay is available.
func DefaultOverlay() Overlay {
	return Overlay{
		StrongImbalance:        0.35,
		WeakImbalance:          0.20,
		MaxSpreadPct:           0.08,
		MinLiquidity:           30,
		PressureThreshold:      0.62,
		MinTradeConfidence:     0.55,
		StopLossPct:            1.0,
		TakeProfitPct:          2.0,
		PositionSizeMultiplier: 1.0,
	}
}

// Analysis is the derived record produced each tick from an order book
// snapshot, per the §3 data model.
type Analysis struct {
	Symbol          string
	Timestamp       time.Time
	Imbalance       float64 // [-1, 1]
	SpreadPct       float64
	BidPressure     float64 // [0, 1], BidPressure + AskPressure == 1
	AskPressure     float64
	LiquidityScore  float64 // [0, 100]
	BidWall         *Wall
	AskWall         *Wall
	State           MarketState
	Aggression      float64 // [-1, 1]
	AbsorptionFlag  bool
	BreakoutFlag    bool
	LowVolumeNode   *float64 // price of a low-volume node, if one is found
}

// Config tunes the classification thresholds and rolling-window sizes. The
// zero value is not usable; call NewDefaultConfig.
type Config struct {
	Depth              int     // top-K levels summed for imbalance/pressure/liquidity
	WallMultiple       float64 // a level must be >= this x the neighbour mean to be a wall
	TightSpreadPct     float64 // spread below this, with weak imbalance, is CONSOLIDATION
	AbsorptionEpsilon  float64 // max price drift (fraction of mid) tolerated under absorption
	AbsorptionTicks    int     // number of ticks price must fail to move beyond epsilon
	LiquidityKnee      float64 // depth (in quote units) at which the liquidity score saturates
}

func NewDefaultConfig() Config {
	return Config{
		Depth:             10,
		WallMultiple:      3.0,
		TightSpreadPct:    0.03,
		AbsorptionEpsilon: 0.0008,
		AbsorptionTicks:   4,
		LiquidityKnee:     250_000,
	}
}

// Analyzer tracks rolling per-symbol state (recent market states for
// breakout confirmation, recent aggressive-fill/price history for
// absorption) across ticks; it is not safe for concurrent use from
// multiple goroutines on the same symbol, matching the orchestrator's
// one-goroutine-per-symbol tick model.
type Analyzer struct {
	cfg Config

	// per-symbol rolling history, bounded to a handful of ticks
	lastStates map[string][]MarketState
	priceTrack map[string][]float64
}

func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{
		cfg:        cfg,
		lastStates: make(map[string][]MarketState),
		priceTrack: make(map[string][]float64),
	}
}

// Analyze derives an Analysis from the given order book snapshot and the
// active overlay's thresholds (the regime engine supplies a fresher
// overlay than DefaultOverlay when one is available).
func (a *Analyzer) Analyze(ob *exchange.OrderBook, overlay Overlay) *Analysis {
	depth := a.cfg.Depth
	bids := topLevels(ob.Bids, depth)
	asks := topLevels(ob.Asks, depth)

	bidSum, askSum := sumSizes(bids), sumSizes(asks)
	imbalance := 0.0
	if total := bidSum + askSum; total > 0 {
		imbalance = (bidSum - askSum) / total
	}

	bestBid, bestAsk := ob.BestBid(), ob.BestAsk()
	mid := ob.MidPrice()
	spreadPct := 0.0
	if mid > 0 {
		spreadPct = (bestAsk.Price - bestBid.Price) / mid * 100
	}

	bidPressure, askPressure := pressure(bidSum, askSum)
	liquidity := liquidityScore(bidSum+askSum, mid, a.cfg.LiquidityKnee)

	bidWall := nearestWall(bids, mid, a.cfg.WallMultiple, false)
	askWall := nearestWall(asks, mid, a.cfg.WallMultiple, true)

	state := a.classify(ob.Symbol, imbalance, spreadPct, bidPressure, askPressure, overlay)
	breakout := a.recordStateAndCheckBreakout(ob.Symbol, state)

	aggression := aggressionScore(imbalance, bidPressure, askPressure)
	absorption, lvn := a.trackAbsorption(ob.Symbol, mid, bidSum, askSum)

	return &Analysis{
		Symbol:         ob.Symbol,
		Timestamp:      ob.Timestamp,
		Imbalance:      imbalance,
		SpreadPct:      spreadPct,
		BidPressure:    bidPressure,
		AskPressure:    askPressure,
		LiquidityScore: liquidity,
		BidWall:        bidWall,
		AskWall:        askWall,
		State:          state,
		Aggression:     aggression,
		AbsorptionFlag: absorption,
		BreakoutFlag:   breakout,
		LowVolumeNode:  lvn,
	}
}

func topLevels(levels []exchange.OrderBookLevel, depth int) []exchange.OrderBookLevel {
	if depth <= 0 || depth >= len(levels) {
		return levels
	}
	return levels[:depth]
}

func sumSizes(levels []exchange.OrderBookLevel) float64 {
	var sum float64
	for _, l := range levels {
		sum += l.Quantity
	}
	return sum
}

// pressure normalizes the resting-size ratio on each side to sum to 1,
// falling back to an even 0.5/0.5 split when the book is empty.
func pressure(bidSum, askSum float64) (bidPressure, askPressure float64) {
	total := bidSum + askSum
	if total <= 0 {
		return 0.5, 0.5
	}
	bidPressure = bidSum / total
	return bidPressure, 1 - bidPressure
}

// liquidityScore maps total top-K depth (converted to quote notional via
// mid price) onto [0, 100] with a saturating knee so a single oversized
// book can't blow the score past 100.
func liquidityScore(totalQty, mid, knee float64) float64 {
	if mid <= 0 || knee <= 0 {
		return 0
	}
	notional := totalQty * mid
	score := 100 * notional / (notional + knee)
	return math.Min(100, math.Max(0, score))
}

// nearestWall reports the level nearest to mid, by distance, whose size is
// at least wallMultiple times the mean size of its neighbours.
func nearestWall(levels []exchange.OrderBookLevel, mid, wallMultiple float64, ascending bool) *Wall {
	if len(levels) < 3 || mid <= 0 {
		return nil
	}
	var best *Wall
	for i, l := range levels {
		neighbourSum, neighbourCount := 0.0, 0
		for j := max(0, i-2); j <= min(len(levels)-1, i+2); j++ {
			if j == i {
				continue
			}
			neighbourSum += levels[j].Quantity
			neighbourCount++
		}
		if neighbourCount == 0 {
			continue
		}
		mean := neighbourSum / float64(neighbourCount)
		if mean <= 0 || l.Quantity < mean*wallMultiple {
			continue
		}
		dist := math.Abs(l.Price-mid) / mid * 100
		if best == nil || dist < best.DistancePct {
			best = &Wall{Price: l.Price, Size: l.Quantity, DistancePct: dist}
		}
	}
	_ = ascending // levels are already ordered by distance from mid (nearest first)
	return best
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// classify applies the market-state decision table: CONSOLIDATION when the
// imbalance is weak and the spread is tight with no recent breakout;
// IMBALANCED_UP/_DOWN when the imbalance is strong and pressure agrees in
// sign; BALANCED otherwise.
func (a *Analyzer) classify(symbol string, imbalance, spreadPct, bidPressure, askPressure float64, overlay Overlay) MarketState {
	abs := math.Abs(imbalance)
	recentBreakout := a.hadRecentBreakout(symbol)

	if abs < overlay.WeakImbalance && spreadPct < a.cfg.TightSpreadPct && !recentBreakout {
		return StateConsolidation
	}
	if abs >= overlay.StrongImbalance {
		if imbalance > 0 && bidPressure >= overlay.PressureThreshold {
			return StateImbalancedUp
		}
		if imbalance < 0 && askPressure >= overlay.PressureThreshold {
			return StateImbalancedDown
		}
	}
	return StateBalanced
}

func (a *Analyzer) hadRecentBreakout(symbol string) bool {
	states := a.lastStates[symbol]
	if len(states) == 0 {
		return false
	}
	return states[len(states)-1] == StateImbalancedUp || states[len(states)-1] == StateImbalancedDown
}

// recordStateAndCheckBreakout appends state to the symbol's rolling
// history and reports breakoutConfirmed: two consecutive IMBALANCED ticks
// in the same direction (a "second drive").
func (a *Analyzer) recordStateAndCheckBreakout(symbol string, state MarketState) bool {
	history := append(a.lastStates[symbol], state)
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	a.lastStates[symbol] = history

	if len(history) < 2 {
		return false
	}
	prev, cur := history[len(history)-2], history[len(history)-1]
	return cur != StateBalanced && cur != StateConsolidation && cur == prev
}

// aggressionScore is a single scalar in [-1, 1] combining directional
// imbalance with which side's pressure dominates; the strategy
// synthesizer includes it in the LLM prompt.
func aggressionScore(imbalance, bidPressure, askPressure float64) float64 {
	pressureSkew := bidPressure - askPressure
	score := (imbalance + pressureSkew) / 2
	return math.Min(1, math.Max(-1, score))
}

// trackAbsorption maintains a short rolling mid-price window per symbol
// and reports absorptionDetected: large one-sided resting size with price
// failing to move beyond epsilon over the configured tick count. When
// absorption is detected it also reports the window's first mid as the
// low-volume node; no other low-volume-node search is made.
func (a *Analyzer) trackAbsorption(symbol string, mid, bidSum, askSum float64) (bool, *float64) {
	if mid <= 0 {
		return false, nil
	}
	track := append(a.priceTrack[symbol], mid)
	ticks := a.cfg.AbsorptionTicks
	if len(track) > ticks {
		track = track[len(track)-ticks:]
	}
	a.priceTrack[symbol] = track

	oneSided := bidSum > askSum*2 || askSum > bidSum*2
	if !oneSided || len(track) < ticks {
		return false, nil
	}

	first := track[0]
	maxDrift := 0.0
	for _, p := range track[1:] {
		drift := math.Abs(p-first) / first
		if drift > maxDrift {
			maxDrift = drift
		}
	}
	absorption := maxDrift <= a.cfg.AbsorptionEpsilon

	var lvn *float64
	if absorption {
		node := first
		lvn = &node
	}
	return absorption, lvn
}
