package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/events"
)

func baseCfg() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:              true,
		MaxLossPerHourPct:    10,
		MaxConsecutiveLosses: 4,
		CooldownMinutes:      30,
		MaxDailyLossPct:      20,
		MaxTradesPerMinute:   1000,
	}
}

func TestRecordEquity_TripsOnHourlyDrawdownEvenWithoutClosedTrades(t *testing.T) {
	b := New(baseCfg(), events.NewBus())

	b.RecordEquity(10000)
	canTrade, _ := b.CanTrade()
	require.True(t, canTrade)

	// unrealized losses on an open position pull equity down 12% from
	// its peak; no trade has ever been closed.
	b.RecordEquity(8800)

	canTrade, reason := b.CanTrade()
	assert.False(t, canTrade)
	assert.Contains(t, reason, "hourly equity drawdown")
	assert.Equal(t, StateOpen, b.State())
}

func TestRecordEquity_NoTripBelowThreshold(t *testing.T) {
	b := New(baseCfg(), events.NewBus())

	b.RecordEquity(10000)
	b.RecordEquity(9500) // 5% drawdown, under the 10% hourly limit

	canTrade, _ := b.CanTrade()
	assert.True(t, canTrade)
}

func TestSetVolatileRegime_HalvesConsecutiveLossTolerance(t *testing.T) {
	b := New(baseCfg(), events.NewBus())

	b.RecordTrade(-1)
	b.RecordTrade(-1)
	canTrade, _ := b.CanTrade()
	require.True(t, canTrade, "two losses should not trip a limit of 4")

	b.SetVolatileRegime(true)
	canTrade, reason := b.CanTrade()
	assert.False(t, canTrade, "two losses should trip a halved limit of 2 once volatile")
	assert.Contains(t, reason, "loss streak reached: 2 (limit 2")
}

func TestRecordTrade_WinResetsStreakAndRecoversFromHalfOpen(t *testing.T) {
	cfg := baseCfg()
	cfg.MaxConsecutiveLosses = 1
	cfg.CooldownMinutes = 0
	b := New(cfg, events.NewBus())

	b.RecordTrade(-2)
	assert.Equal(t, StateOpen, b.State())

	canTrade, _ := b.CanTrade() // cooldown is zero, moves to half-open
	require.True(t, canTrade)
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordTrade(3)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.GetStats().ConsecutiveLosses)
}

func TestResetCountersIfNeeded_ReseedsPeaksInsteadOfZeroing(t *testing.T) {
	b := New(baseCfg(), events.NewBus())
	b.RecordEquity(10000)
	b.hourlyResetAt = time.Now().Add(-time.Minute) // force the hourly window to roll over

	b.resetCountersIfNeeded()

	stats := b.GetStats()
	assert.Zero(t, stats.HourlyDrawdownPct, "a fresh window must not read as an instant drawdown")
}

func TestForceReset_ClosesBreakerAndReseedsPeaks(t *testing.T) {
	b := New(baseCfg(), events.NewBus())
	b.RecordEquity(10000)
	b.RecordEquity(8000)
	require.Equal(t, StateOpen, b.State())

	b.ForceReset()

	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.GetStats().HourlyDrawdownPct)
}
