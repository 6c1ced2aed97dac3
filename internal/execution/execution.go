// Package execution implements the Execution Gateway (component H): it
// translates a surviving decision into a LIMIT-at-bid/ask order with IOC,
// tracks every in-flight order in a pending-orders list the dashboard can
// read, and emits filled/failed events through the shared event bus.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ksedatech/perp-sentinel/internal/exchange"
	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/logging"
)

// epsilon nudges the limit price across the spread just enough for an IOC
// order to have a realistic chance of filling against resting liquidity.
const epsilon = 0.0005

const takerFeeRate = 0.0004

// PendingOrder is one in-flight order, exposed to the dashboard with the
// fields the spec's pending-orders list calls out.
type PendingOrder struct {
	ID           string
	Symbol       string
	Side         exchange.Side
	LimitPrice   float64
	Quantity     float64
	Confidence   float64
	Reasoning    string
	CreatedAt    time.Time
	CurrentPrice float64
}

// Outcome is the terminal result of placing an order.
type Outcome struct {
	Filled    bool
	OrderID   int64
	FillPrice float64
	Fee       float64
	Reason    string // populated on failure
}

// Gateway dispatches decisions as orders and tracks pending state.
type Gateway struct {
	client exchange.Client
	bus    *events.Bus
	logger *logging.Logger

	mu      sync.Mutex
	pending map[string]*PendingOrder
}

func NewGateway(client exchange.Client, bus *events.Bus) *Gateway {
	return &Gateway{
		client:  client,
		bus:     bus,
		logger:  logging.WithComponent("execution"),
		pending: make(map[string]*PendingOrder),
	}
}

// Pending returns a snapshot of every currently in-flight order.
func (g *Gateway) Pending() []PendingOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingOrder, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, *p)
	}
	return out
}

// Place fetches the best bid/ask, builds a LIMIT-at-bid/ask IOC order
// (bid x (1+eps) for a BUY, ask x (1-eps) for a SELL), and places it. On
// success it emits an OrderFilled event; on rejection or a zero fill it
// emits OrderRejected and returns a failure Outcome so the caller can
// release the margin reservation it made before calling Place.
func (g *Gateway) Place(ctx context.Context, symbol string, side exchange.Side, quantity, confidence float64, reasoning string) (*Outcome, error) {
	book, err := g.client.GetOrderBook(ctx, symbol, 5)
	if err != nil {
		return nil, fmt.Errorf("execution: fetch order book: %w", err)
	}

	var limitPrice float64
	switch side {
	case exchange.SideLong:
		limitPrice = book.BestBid().Price * (1 + epsilon)
	case exchange.SideShort:
		limitPrice = book.BestAsk().Price * (1 - epsilon)
	}
	if limitPrice <= 0 {
		return nil, fmt.Errorf("execution: no usable price for %s", symbol)
	}

	clientOrderID := uuid.NewString()
	pending := &PendingOrder{
		ID: clientOrderID, Symbol: symbol, Side: side, LimitPrice: limitPrice,
		Quantity: quantity, Confidence: confidence, Reasoning: reasoning,
		CreatedAt: time.Now(), CurrentPrice: limitPrice,
	}
	g.mu.Lock()
	g.pending[clientOrderID] = pending
	g.mu.Unlock()
	defer g.removePending(clientOrderID)

	resp, err := g.client.PlaceOrder(ctx, exchange.OrderParams{
		Symbol: symbol, Side: side, Type: exchange.OrderTypeLimit,
		TimeInForce: exchange.TIFIOC, Price: limitPrice, Quantity: quantity,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		g.bus.PublishOrder(events.OrderRejected, clientOrderID, symbol, string(side), string(exchange.OrderTypeLimit), limitPrice, quantity)
		g.logger.WithError(err).Warn("order placement failed", "symbol", symbol)
		return &Outcome{Filled: false, Reason: err.Error()}, nil
	}

	if !resp.IsFilled() || resp.ExecutedQty <= 0 {
		g.bus.PublishOrder(events.OrderRejected, clientOrderID, symbol, string(side), string(exchange.OrderTypeLimit), limitPrice, quantity)
		return &Outcome{Filled: false, Reason: fmt.Sprintf("IOC order did not fill (status=%s)", resp.Status)}, nil
	}

	fee := resp.Fee
	if fee == 0 {
		fee = resp.ExecutedQty * resp.AvgFillPrice * takerFeeRate
	}

	g.bus.PublishOrder(events.OrderFilled, clientOrderID, symbol, string(side), string(exchange.OrderTypeLimit), resp.AvgFillPrice, resp.ExecutedQty)
	return &Outcome{Filled: true, OrderID: resp.OrderID, FillPrice: resp.AvgFillPrice, Fee: fee}, nil
}

func (g *Gateway) removePending(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, id)
}
