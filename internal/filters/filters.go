// Package filters implements the ordered filter stack (component F): a
// pipeline of independent gates over a tentative strategy signal, each
// returning {pass, reason, size multiplier, confidence floor}. Filters
// compose: final size is the product of multipliers, final confidence
// floor is the max of floors, and veto is sticky — once any filter vetoes,
// the composed result is a veto regardless of later filters.
package filters

import (
	"fmt"
	"math"
	"time"
)

// Result is what a single filter (or the composed stack) returns.
type Result struct {
	Pass            bool
	Reason          string
	SizeMultiplier  float64 // (0, 1]
	ConfidenceFloor float64 // raises the minimum acceptable confidence
}

func passResult(mult float64) Result { return Result{Pass: true, SizeMultiplier: mult} }
func vetoResult(reason string) Result {
	return Result{Pass: false, Reason: reason, SizeMultiplier: 1}
}

// Session names the trading session bucket a timestamp falls into, by UTC
// hour, used for the session size multiplier.
type Session string

const (
	SessionAsia      Session = "ASIA"
	SessionLondon    Session = "LONDON"
	SessionNewYork   Session = "NEW_YORK"
	SessionLateNight Session = "LATE_NIGHT"
)

func sessionFor(t time.Time) Session {
	h := t.UTC().Hour()
	switch {
	case h >= 0 && h < 7:
		return SessionAsia
	case h >= 7 && h < 12:
		return SessionLondon
	case h >= 12 && h < 21:
		return SessionNewYork
	default:
		return SessionLateNight
	}
}

// Input bundles everything the filter stack needs per tick per symbol.
type Input struct {
	Now                  time.Time
	ATRPercent            float64 // ATR as a % of price
	Confidence            float64
	ConsecutiveLosses     int
	TradeStats            TradeStats
	VolumeRatio           float64 // current volume / 20-period average
	TrendStrengthAbs      float64 // |trend strength| in [0, 1]
	LastReversalAt        time.Time
	ReversalsInTrailingHr int
	SignalHistory         []string // recent decisions for the symbol, oldest first
	CurrentDirection      string   // the tentative decision's direction ("BUY"/"SELL")
	MinutesToFunding      float64  // signed minutes to the nearest 8h funding boundary
}

// TradeStats tracks the counters the cooldown and daily-cap filters read.
type TradeStats struct {
	TradesToday      int
	LastTradeAt      time.Time
	MinIntervalTrade time.Duration
	DailyTradeCap    int
}

// Config tunes every filter's thresholds; the zero value is not usable.
type Config struct {
	VolatilityFloorPct float64 // default 0.005

	CooldownAfter1Loss  time.Duration // default 5m
	CooldownAfter2Loss  time.Duration // default 10m
	CooldownAfter3Loss  time.Duration // default 30m
	MinTradeInterval    time.Duration // default 3m
	DailyTradeCap       int           // default 15

	FundingPreWindow  time.Duration // default 10m before
	FundingPostWindow time.Duration // default 5m after

	VolumeVetoRatio  float64 // default 5.0
	VolumeHalveRatio float64 // default 3.0

	StabilityWindow int // default 1 (min consecutive same-direction signals required)

	MaxReversalsPerHour int // default 3
}

func NewDefaultConfig() Config {
	return Config{
		VolatilityFloorPct:  0.005,
		CooldownAfter1Loss:  5 * time.Minute,
		CooldownAfter2Loss:  10 * time.Minute,
		CooldownAfter3Loss:  30 * time.Minute,
		MinTradeInterval:    3 * time.Minute,
		DailyTradeCap:       15,
		FundingPreWindow:    10 * time.Minute,
		FundingPostWindow:   5 * time.Minute,
		VolumeVetoRatio:     5.0,
		VolumeHalveRatio:    3.0,
		StabilityWindow:     1,
		MaxReversalsPerHour: 3,
	}
}

// Stack runs every filter in order and composes the result.
type Stack struct {
	cfg Config
}

func NewStack(cfg Config) *Stack { return &Stack{cfg: cfg} }

// Run executes the ordered pipeline over in and returns the composed
// result: veto is sticky (the first veto short-circuits, carrying its
// reason), otherwise size multipliers are multiplied and confidence
// floors are maxed across every filter that ran.
func (s *Stack) Run(in Input) Result {
	stages := []func(Input) Result{
		s.volatility,
		s.session,
		s.cooldown,
		s.fundingEvent,
		s.volumeAnomaly,
		s.dynamicSizing,
		s.signalStability,
		s.reversalCooldown,
	}

	composedMult := 1.0
	composedFloor := 0.0
	var reasons []string

	for _, stage := range stages {
		r := stage(in)
		if !r.Pass {
			return Result{Pass: false, Reason: r.Reason, SizeMultiplier: 1}
		}
		if r.SizeMultiplier > 0 {
			composedMult *= r.SizeMultiplier
		}
		if r.ConfidenceFloor > composedFloor {
			composedFloor = r.ConfidenceFloor
		}
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}

	composedMult = math.Max(0, math.Min(1, composedMult))
	return Result{
		Pass:            true,
		Reason:          joinReasons(reasons),
		SizeMultiplier:  composedMult,
		ConfidenceFloor: composedFloor,
	}
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

// volatility vetoes when ATR% sits below the configured floor (default
// 0.005%); otherwise it passes with a 1.0 size multiplier. It computes no
// trend-strength score; TrendStrengthAbs is read only by dynamicSizing.
func (s *Stack) volatility(in Input) Result {
	if in.ATRPercent < s.cfg.VolatilityFloorPct {
		return vetoResult(fmt.Sprintf("low volatility: ATR%% %.5f below floor %.5f", in.ATRPercent, s.cfg.VolatilityFloorPct))
	}
	return passResult(1.0)
}

// session never vetoes; it scales size by the active session.
func (s *Stack) session(in Input) Result {
	mult := 1.0
	switch sessionFor(in.Now) {
	case SessionAsia:
		mult = 0.6
	case SessionLondon:
		mult = 1.0
	case SessionNewYork:
		mult = 1.4
	case SessionLateNight:
		mult = 0.4
	}
	if wd := in.Now.UTC().Weekday(); wd == time.Saturday || wd == time.Sunday {
		mult *= 0.5
	}
	return passResult(mult)
}

// cooldown vetoes within the post-loss cooldown window or the global
// min-trade interval, or once the daily trade cap is reached; otherwise it
// raises the confidence floor from 0.70 to 0.90.
func (s *Stack) cooldown(in Input) Result {
	var window time.Duration
	switch {
	case in.ConsecutiveLosses >= 3:
		window = s.cfg.CooldownAfter3Loss
	case in.ConsecutiveLosses == 2:
		window = s.cfg.CooldownAfter2Loss
	case in.ConsecutiveLosses == 1:
		window = s.cfg.CooldownAfter1Loss
	}
	if window > 0 && !in.TradeStats.LastTradeAt.IsZero() && in.Now.Sub(in.TradeStats.LastTradeAt) < window {
		return vetoResult(fmt.Sprintf("cooldown active: %d consecutive losses, %s remaining", in.ConsecutiveLosses, window-in.Now.Sub(in.TradeStats.LastTradeAt)))
	}

	minInterval := s.cfg.MinTradeInterval
	if minInterval > 0 && !in.TradeStats.LastTradeAt.IsZero() && in.Now.Sub(in.TradeStats.LastTradeAt) < minInterval {
		return vetoResult("global minimum trade interval not yet elapsed")
	}

	dailyCap := s.cfg.DailyTradeCap
	if dailyCap > 0 && in.TradeStats.TradesToday >= dailyCap {
		return vetoResult(fmt.Sprintf("daily trade cap reached (%d/%d)", in.TradeStats.TradesToday, dailyCap))
	}

	floor := 0.70
	if in.ConsecutiveLosses > 0 {
		floor = 0.90
	}
	return Result{Pass: true, SizeMultiplier: 1, ConfidenceFloor: floor}
}

// fundingEvent vetoes inside the pre/post window around an 8h funding
// settlement boundary. MinutesToFunding is positive before the boundary
// and negative after it.
func (s *Stack) fundingEvent(in Input) Result {
	pre := s.cfg.FundingPreWindow.Minutes()
	post := s.cfg.FundingPostWindow.Minutes()
	if in.MinutesToFunding <= pre && in.MinutesToFunding >= -post {
		return vetoResult(fmt.Sprintf("within funding settlement window (%.1f min to boundary)", in.MinutesToFunding))
	}
	return passResult(1.0)
}

// volumeAnomaly vetoes on an extreme volume spike and halves size on a
// strong one; normal-to-low volume reduces size modestly.
func (s *Stack) volumeAnomaly(in Input) Result {
	switch {
	case in.VolumeRatio >= s.cfg.VolumeVetoRatio:
		return vetoResult(fmt.Sprintf("volume anomaly: ratio %.2fx >= veto threshold %.2fx", in.VolumeRatio, s.cfg.VolumeVetoRatio))
	case in.VolumeRatio >= s.cfg.VolumeHalveRatio:
		return passResult(0.5)
	case in.VolumeRatio < 0.5:
		return passResult(0.8)
	}
	return passResult(1.0)
}

// dynamicSizing maps confidence into a size multiplier bucket, applies a
// trend-strength adjustment, and penalizes consecutive losses.
func (s *Stack) dynamicSizing(in Input) Result {
	var mult float64
	switch {
	case in.Confidence >= 0.85:
		mult = 1.0
	case in.Confidence >= 0.75:
		mult = 0.75
	case in.Confidence >= 0.65:
		mult = 0.50
	default:
		mult = 0.25
	}

	trendAdj := 1 + 0.20 + 0.10*math.Min(1, in.TrendStrengthAbs)
	mult *= math.Min(1.3, trendAdj)

	switch {
	case in.ConsecutiveLosses >= 3:
		mult *= 0.50
	case in.ConsecutiveLosses == 2:
		mult *= 0.75
	}

	return passResult(math.Max(0, math.Min(1, mult)))
}

// signalStability vetoes unless the last N signal-history entries agree
// with the tentative direction.
func (s *Stack) signalStability(in Input) Result {
	n := s.cfg.StabilityWindow
	if n <= 0 {
		return passResult(1.0)
	}
	if len(in.SignalHistory) < n {
		return vetoResult("insufficient signal history for stability check")
	}
	tail := in.SignalHistory[len(in.SignalHistory)-n:]
	for _, d := range tail {
		if d != in.CurrentDirection {
			return vetoResult(fmt.Sprintf("signal instability: last %d signals not all %s", n, in.CurrentDirection))
		}
	}
	return passResult(1.0)
}

// reversalCooldown vetoes once the trailing-hour reversal count exceeds
// the cap. It applies no post-reversal time window: LastReversalAt is not
// read.
func (s *Stack) reversalCooldown(in Input) Result {
	if in.ReversalsInTrailingHr > s.cfg.MaxReversalsPerHour {
		return vetoResult(fmt.Sprintf("max reversals/hour exceeded (%d/%d)", in.ReversalsInTrailingHr, s.cfg.MaxReversalsPerHour))
	}
	return passResult(1.0)
}
