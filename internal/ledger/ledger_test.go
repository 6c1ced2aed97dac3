package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/internal/exchange"
)

func TestOpenPosition_ReservesMarginAndCapsAtMaxPositions(t *testing.T) {
	l := NewLedger(1000, 1)

	pos, err := l.OpenPosition("BTCUSDT", exchange.SideLong, 0.1, 50000, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.Equal(t, 100.0, l.ReservedTotal())

	_, err = l.OpenPosition("ETHUSDT", exchange.SideLong, 1, 2000, 10, 100)
	assert.ErrorIs(t, err, ErrMaxPositionsReached)
}

func TestOpenPosition_CorrelationRuleBlocksOppositeSideAcrossSymbols(t *testing.T) {
	l := NewLedger(1000, 10)

	_, err := l.OpenPosition("BTCUSDT", exchange.SideLong, 0.1, 50000, 10, 100)
	require.NoError(t, err)

	_, err = l.OpenPosition("ETHUSDT", exchange.SideShort, 1, 2000, 10, 100)
	assert.ErrorIs(t, err, ErrCorrelationBlocked)

	// Another BUY elsewhere respects max_positions instead of being blocked.
	_, err = l.OpenPosition("ETHUSDT", exchange.SideLong, 1, 2000, 10, 100)
	assert.NoError(t, err)
}

func TestClosePosition_IsIdempotent(t *testing.T) {
	l := NewLedger(1000, 10)
	pos, err := l.OpenPosition("BTCUSDT", exchange.SideLong, 0.1, 50000, 10, 100)
	require.NoError(t, err)

	first, err := l.ClosePosition(pos.TradeID, 51000)
	require.NoError(t, err)
	second, err := l.ClosePosition(pos.TradeID, 99999) // different exit price must not reopen or re-book PnL
	require.NoError(t, err)

	assert.Equal(t, *first.RealizedPnL, *second.RealizedPnL)
	assert.Equal(t, *first.ExitPrice, *second.ExitPrice)
}

func TestPositionByID_FindsOpenAndClosedPositions(t *testing.T) {
	l := NewLedger(1000, 10)
	pos, err := l.OpenPosition("BTCUSDT", exchange.SideLong, 0.1, 50000, 10, 100)
	require.NoError(t, err)

	found, ok := l.PositionByID(pos.TradeID)
	require.True(t, ok)
	assert.Equal(t, StatusOpen, found.Status)

	_, err = l.ClosePosition(pos.TradeID, 51000)
	require.NoError(t, err)

	found, ok = l.PositionByID(pos.TradeID)
	require.True(t, ok)
	assert.Equal(t, StatusClosed, found.Status)

	_, ok = l.PositionByID("does-not-exist")
	assert.False(t, ok)
}

func TestClosePosition_ReleasesReservationAndUpdatesBalance(t *testing.T) {
	l := NewLedger(1000, 10)
	pos, err := l.OpenPosition("BTCUSDT", exchange.SideLong, 0.1, 50000, 10, 100)
	require.NoError(t, err)
	require.Equal(t, 100.0, l.ReservedTotal())

	_, err = l.ClosePosition(pos.TradeID, 51000)
	require.NoError(t, err)

	assert.Equal(t, 0.0, l.ReservedTotal())
	assert.Greater(t, l.CurrentBalance(), 1000.0) // price moved in favor of the long
}

func TestReserveMargin_NeverExceedsBalance(t *testing.T) {
	l := NewLedger(100, 10)

	ok, err := l.ReserveMargin("t1", 60)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.ReserveMargin("t2", 60)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.LessOrEqual(t, l.ReservedTotal(), l.CurrentBalance())
}

func TestInvertPosition_EmitsCloseThenOpenOppositeSide(t *testing.T) {
	l := NewLedger(1000, 10)
	_, err := l.OpenPosition("BTCUSDT", exchange.SideLong, 0.1, 50000, 10, 100)
	require.NoError(t, err)

	closed, opened, err := l.InvertPosition("BTCUSDT", 49000, 0.1, 10, 90)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, exchange.SideShort, opened.Side)
	assert.Equal(t, StatusOpen, opened.Status)

	current, ok := l.PositionForSymbol("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, opened.TradeID, current.TradeID)
}
