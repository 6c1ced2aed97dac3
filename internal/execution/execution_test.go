package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/exchange"
)

func TestPlace_FillsAndClearsFromPending(t *testing.T) {
	client := exchange.NewMockClient(1000, func(string) (float64, error) { return 50000, nil })
	bus := events.NewBus()
	var filled bool
	bus.Subscribe(events.OrderFilled, func(events.Event) { filled = true })

	gw := NewGateway(client, bus)
	outcome, err := gw.Place(context.Background(), "BTCUSDT", exchange.SideLong, 0.01, 0.8, "test")

	require.NoError(t, err)
	assert.True(t, outcome.Filled)
	assert.Empty(t, gw.Pending())

	// event delivery is async (fire-and-forget goroutine per subscriber)
	assert.Eventually(t, func() bool { return filled }, time.Second, 5*time.Millisecond)
}

func TestPlace_BuyUsesBidBasedLimitPrice(t *testing.T) {
	client := exchange.NewMockClient(1000, func(string) (float64, error) { return 50000, nil })
	bus := events.NewBus()
	gw := NewGateway(client, bus)

	outcome, err := gw.Place(context.Background(), "BTCUSDT", exchange.SideLong, 0.01, 0.8, "test")
	require.NoError(t, err)
	assert.True(t, outcome.Filled)
	assert.Greater(t, outcome.FillPrice, 0.0)
	// mock best bid is 50000 - 25/2; the mock fills a LIMIT at its limit price
	assert.InDelta(t, 49987.5*(1+epsilon), outcome.FillPrice, 1e-6)
}

func TestPending_EmptyBeforeAndAfterPlace(t *testing.T) {
	client := exchange.NewMockClient(1000, func(string) (float64, error) { return 50000, nil })
	bus := events.NewBus()
	gw := NewGateway(client, bus)

	assert.Empty(t, gw.Pending())
	_, err := gw.Place(context.Background(), "ETHUSDT", exchange.SideShort, 1, 0.7, "test")
	require.NoError(t, err)
	assert.Empty(t, gw.Pending())
}
