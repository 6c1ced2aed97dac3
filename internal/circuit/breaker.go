// Package circuit implements the process-wide trading circuit breaker:
// a kill switch that halts new entries once the account's equity draws
// down from its rolling high-water mark, a loss streak runs long, or the
// exchange rate limit is at risk, independent of the per-signal filter
// stack. Unlike a simple realized-PnL counter, the drawdown check tracks
// account equity directly, so it also reacts to unrealized losses sitting
// in open leveraged positions — the thing that actually drives margin
// calls on a perpetual futures account.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/events"
)

// State is the circuit breaker's lifecycle state.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // trading halted
	StateHalfOpen State = "half_open" // cooldown elapsed, probing recovery
)

// Breaker implements the equity-drawdown, loss-streak, and rate-limit
// kill switch described by config.CircuitBreakerConfig.
type Breaker struct {
	cfg config.CircuitBreakerConfig
	bus *events.Bus
	mu  sync.RWMutex

	state             State
	consecutiveLosses int
	tradesThisMinute  int
	dailyTrades       int
	lastTripTime      time.Time
	tripReason        string

	// equity and the two high-water marks are driven by RecordEquity,
	// called once per tick cycle with the ledger's mark-to-market
	// value, not by RecordTrade's realized-PnL events. A position that
	// is bleeding unrealized losses trips the breaker before it is ever
	// closed out.
	equity           float64
	equitySeen       bool
	hourlyPeakEquity float64
	dailyPeakEquity  float64

	// volatileRegime narrows the consecutive-loss tolerance: a losing
	// streak during a HIGH_VOLATILITY regime burns through margin
	// faster than the same streak in calm conditions, so it should
	// trip sooner.
	volatileRegime bool

	hourlyResetAt time.Time
	dailyResetAt  time.Time
	minuteResetAt time.Time
}

// New creates a Breaker in the closed state.
func New(cfg config.CircuitBreakerConfig, bus *events.Bus) *Breaker {
	now := time.Now()
	return &Breaker{
		cfg:           cfg,
		bus:           bus,
		state:         StateClosed,
		hourlyResetAt: now.Add(time.Hour),
		dailyResetAt:  now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		minuteResetAt: now.Add(time.Minute),
	}
}

// consecutiveLossLimit returns the effective streak tolerance, halved
// while any tracked symbol is in a HIGH_VOLATILITY regime.
func (b *Breaker) consecutiveLossLimit() int {
	if b.volatileRegime {
		if limit := b.cfg.MaxConsecutiveLosses / 2; limit > 0 {
			return limit
		}
		return 1
	}
	return b.cfg.MaxConsecutiveLosses
}

// CanTrade reports whether a new entry is currently permitted, and if
// not, why.
func (b *Breaker) CanTrade() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetCountersIfNeeded()

	if b.state == StateOpen {
		elapsed := time.Since(b.lastTripTime)
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			return false, fmt.Sprintf("circuit open, cooldown remaining %v (%s)", (cooldown - elapsed).Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
	}

	hourlyDD, dailyDD := b.drawdownPctLocked()
	switch {
	case hourlyDD >= b.cfg.MaxLossPerHourPct:
		return false, fmt.Sprintf("hourly equity drawdown reached: %.2f%% >= %.2f%%", hourlyDD, b.cfg.MaxLossPerHourPct)
	case dailyDD >= b.cfg.MaxDailyLossPct:
		return false, fmt.Sprintf("daily equity drawdown reached: %.2f%% >= %.2f%%", dailyDD, b.cfg.MaxDailyLossPct)
	// a half-open breaker lets a probe trade through despite the streak
	// that tripped it; RecordTrade closes or re-trips it on the outcome.
	case b.state != StateHalfOpen && b.consecutiveLosses >= b.consecutiveLossLimit():
		return false, fmt.Sprintf("loss streak reached: %d (limit %d, volatile=%v)", b.consecutiveLosses, b.consecutiveLossLimit(), b.volatileRegime)
	case b.tradesThisMinute >= b.cfg.MaxTradesPerMinute:
		return false, fmt.Sprintf("rate limit reached: %d trades/minute", b.tradesThisMinute)
	}
	return true, ""
}

// drawdownPctLocked returns the current pullback from the hourly and
// daily equity high-water marks, as a percentage. Callers must hold b.mu.
func (b *Breaker) drawdownPctLocked() (hourly, daily float64) {
	if !b.equitySeen {
		return 0, 0
	}
	if b.hourlyPeakEquity > 0 {
		hourly = (b.hourlyPeakEquity - b.equity) / b.hourlyPeakEquity * 100
	}
	if b.dailyPeakEquity > 0 {
		daily = (b.dailyPeakEquity - b.equity) / b.dailyPeakEquity * 100
	}
	return hourly, daily
}

// RecordEquity feeds the ledger's latest mark-to-market equity into the
// breaker, updating the hourly/daily high-water marks and tripping the
// breaker the moment drawdown from either peak crosses its threshold —
// whether that drawdown came from realized losses or an open position
// still bleeding unrealized P&L.
func (b *Breaker) RecordEquity(equity float64) {
	if !b.cfg.Enabled || math.IsNaN(equity) || math.IsInf(equity, 0) {
		return
	}

	b.mu.Lock()
	b.resetCountersIfNeeded()
	b.equity = equity
	b.equitySeen = true
	if equity > b.hourlyPeakEquity {
		b.hourlyPeakEquity = equity
	}
	if equity > b.dailyPeakEquity {
		b.dailyPeakEquity = equity
	}

	hourlyDD, dailyDD := b.drawdownPctLocked()
	var reason string
	switch {
	case hourlyDD >= b.cfg.MaxLossPerHourPct:
		reason = fmt.Sprintf("hourly equity drawdown: %.2f%%", hourlyDD)
	case dailyDD >= b.cfg.MaxDailyLossPct:
		reason = fmt.Sprintf("daily equity drawdown: %.2f%%", dailyDD)
	}
	if reason != "" {
		b.trip(reason)
	}
	b.mu.Unlock()
}

// SetVolatileRegime records whether any tracked symbol currently sits in
// a HIGH_VOLATILITY regime, tightening the loss-streak tolerance while
// it does.
func (b *Breaker) SetVolatileRegime(volatile bool) {
	b.mu.Lock()
	b.volatileRegime = volatile
	b.mu.Unlock()
}

// RecordTrade folds a closed trade's outcome into the loss-streak and
// rate-limit counters and trips the breaker if the streak limit is now
// crossed. Drawdown tripping is handled by RecordEquity, not here: a
// trade's realized PnL percentage is a poor proxy for leveraged account
// risk since it ignores position size and concurrent open exposure.
func (b *Breaker) RecordTrade(pnlPercent float64) {
	if !b.cfg.Enabled || math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	b.mu.Lock()
	b.resetCountersIfNeeded()
	b.tradesThisMinute++
	b.dailyTrades++

	recovered := false
	if pnlPercent < 0 {
		b.consecutiveLosses++
	} else {
		b.consecutiveLosses = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			recovered = true
		}
	}

	if b.consecutiveLosses >= b.consecutiveLossLimit() {
		b.trip(fmt.Sprintf("loss streak: %d (limit %d, volatile=%v)", b.consecutiveLosses, b.consecutiveLossLimit(), b.volatileRegime))
	}
	b.mu.Unlock()

	if recovered && b.bus != nil {
		b.bus.PublishCircuitBreaker(string(StateClosed), "recovered", "winning trade after cooldown")
	}
}

// trip opens the breaker. Callers must hold b.mu.
func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.lastTripTime = time.Now()
	b.tripReason = reason
	if b.bus != nil {
		b.bus.PublishCircuitBreaker(string(StateOpen), "tripped", reason)
	}
}

func (b *Breaker) resetCountersIfNeeded() {
	now := time.Now()
	if now.After(b.minuteResetAt) {
		b.tradesThisMinute = 0
		b.minuteResetAt = now.Add(time.Minute)
	}
	if now.After(b.hourlyResetAt) {
		// reseed the hourly peak from current equity rather than
		// zeroing it, so a fresh window doesn't read as 100% drawdown
		// before the next RecordEquity call arrives.
		b.hourlyPeakEquity = b.equity
		b.hourlyResetAt = now.Add(time.Hour)
	}
	if now.After(b.dailyResetAt) {
		b.dailyPeakEquity = b.equity
		b.dailyTrades = 0
		b.dailyResetAt = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// ForceReset manually closes the breaker, used by the operator API's
// POST /api/reset.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.tripReason = ""
	if b.equitySeen {
		b.hourlyPeakEquity = b.equity
		b.dailyPeakEquity = b.equity
	}
	b.mu.Unlock()
	if b.bus != nil {
		b.bus.PublishCircuitBreaker(string(StateClosed), "reset", "manual reset")
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats summarizes breaker counters for the operator API.
type Stats struct {
	State             string    `json:"state"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	HourlyDrawdownPct float64   `json:"hourly_drawdown_pct"`
	DailyDrawdownPct  float64   `json:"daily_drawdown_pct"`
	VolatileRegime    bool      `json:"volatile_regime"`
	TradesThisMinute  int       `json:"trades_this_minute"`
	DailyTrades       int       `json:"daily_trades"`
	TripReason        string    `json:"trip_reason,omitempty"`
	LastTripTime      time.Time `json:"last_trip_time,omitempty"`
}

// GetStats returns a snapshot of the breaker's counters.
func (b *Breaker) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hourlyDD, dailyDD := b.drawdownPctLocked()
	return Stats{
		State:             string(b.state),
		ConsecutiveLosses: b.consecutiveLosses,
		HourlyDrawdownPct: hourlyDD,
		DailyDrawdownPct:  dailyDD,
		VolatileRegime:    b.volatileRegime,
		TradesThisMinute:  b.tradesThisMinute,
		DailyTrades:       b.dailyTrades,
		TripReason:        b.tripReason,
		LastTripTime:      b.lastTripTime,
	}
}
