package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockClient is an in-memory Client used for dry-run trading and tests.
// It simulates immediate fills at the requested price and tracks a
// single position per symbol, mirroring the real venue's one-way mode.
type MockClient struct {
	mu          sync.RWMutex
	balance     float64
	positions   map[string]*Position
	nextOrderID int64
	priceFeed   func(symbol string) (float64, error)
	candles     map[string][]Candle
}

// NewMockClient creates a MockClient seeded with initialBalance. priceFeed,
// when set, supplies the mark price used to mark open positions; tests can
// leave it nil and drive prices entirely through SeedCandles.
func NewMockClient(initialBalance float64, priceFeed func(symbol string) (float64, error)) *MockClient {
	return &MockClient{
		balance:     initialBalance,
		positions:   make(map[string]*Position),
		nextOrderID: 1000,
		priceFeed:   priceFeed,
		candles:     make(map[string][]Candle),
	}
}

// SeedCandles installs canned candle history for a symbol, used by tests
// and the backtest runner instead of hitting a real venue.
func (m *MockClient) SeedCandles(symbol string, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = candles
}

func (m *MockClient) lastPrice(symbol string) float64 {
	if m.priceFeed != nil {
		if p, err := m.priceFeed(symbol); err == nil && p > 0 {
			return p
		}
	}
	if candles := m.candles[symbol]; len(candles) > 0 {
		return candles[len(candles)-1].Close
	}
	return 0
}

func (m *MockClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	candles := m.candles[symbol]
	if len(candles) == 0 {
		return nil, ErrEmptyMarketData
	}
	if limit > 0 && limit < len(candles) {
		candles = candles[len(candles)-limit:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// GetHistoricalCandles returns every seeded candle for symbol whose
// OpenTime falls within [from, to], for backtest replay against
// pre-seeded fixture data.
func (m *MockClient) GetHistoricalCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Candle
	for _, c := range m.candles[symbol] {
		if !c.OpenTime.Before(from) && !c.OpenTime.After(to) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyMarketData
	}
	return out, nil
}

func (m *MockClient) GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price := m.lastPrice(symbol)
	if price == 0 {
		return nil, ErrEmptyMarketData
	}
	spread := price * 0.0005
	ob := &OrderBook{Symbol: symbol, Timestamp: time.Now()}
	for i := 0; i < 10; i++ {
		step := float64(i) * spread
		ob.Bids = append(ob.Bids, OrderBookLevel{Price: price - spread/2 - step, Quantity: 1 + rand.Float64()*5})
		ob.Asks = append(ob.Asks, OrderBookLevel{Price: price + spread/2 + step, Quantity: 1 + rand.Float64()*5})
	}
	return ob, nil
}

func (m *MockClient) GetMarkPrice(ctx context.Context, symbol string) (*MarkPrice, error) {
	price := m.lastPrice(symbol)
	if price == 0 {
		return nil, ErrEmptyMarketData
	}
	return &MarkPrice{Symbol: symbol, Price: price, IndexPrice: price, NextFundingTime: time.Now().Add(8 * time.Hour)}, nil
}

func (m *MockClient) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	return &FundingRate{Symbol: symbol, Rate: 0.0001, Time: time.Now()}, nil
}

func (m *MockClient) GetTicker24h(ctx context.Context, symbol string) (*Ticker, error) {
	price := m.lastPrice(symbol)
	if price == 0 {
		return nil, ErrEmptyMarketData
	}
	return &Ticker{Symbol: symbol, LastPrice: price}, nil
}

func (m *MockClient) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	return &SymbolInfo{Symbol: symbol, PricePrecision: 2, QuantityPrecision: 3, MinQuantity: 0.001, TickSize: 0.01}, nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, p OrderParams) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fillPrice := p.Price
	if p.Type == OrderTypeMarket || fillPrice == 0 {
		fillPrice = m.lastPrice(p.Symbol)
	}
	if fillPrice == 0 {
		return nil, &PermanentError{Op: "PlaceOrder", Err: fmt.Errorf("no price available for %s", p.Symbol)}
	}

	m.nextOrderID++
	resp := &OrderResponse{
		OrderID: m.nextOrderID, ClientOrderID: p.ClientOrderID, Symbol: p.Symbol,
		Side: p.Side, Status: OrderStatusFilled, Price: p.Price,
		AvgFillPrice: fillPrice, ExecutedQty: p.Quantity, OrigQty: p.Quantity,
		Fee: fillPrice * p.Quantity * 0.0004, UpdateTime: time.Now(),
	}

	m.applyFill(p, fillPrice)
	return resp, nil
}

func (m *MockClient) applyFill(p OrderParams, fillPrice float64) {
	pos, exists := m.positions[p.Symbol]
	if p.ReduceOnly || exists {
		if exists {
			m.closeOrReduce(pos, p, fillPrice)
			return
		}
	}
	m.positions[p.Symbol] = &Position{
		Symbol: p.Symbol, Side: p.Side, EntryPrice: fillPrice,
		MarkPrice: fillPrice, Quantity: p.Quantity, Leverage: 1,
	}
}

func (m *MockClient) closeOrReduce(pos *Position, p OrderParams, fillPrice float64) {
	if p.Side != pos.Side.Opposite() {
		// same-direction add: average the entry price
		newQty := pos.Quantity + p.Quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fillPrice*p.Quantity) / newQty
		pos.Quantity = newQty
		return
	}

	pnl := (fillPrice - pos.EntryPrice) * pos.Quantity
	if pos.Side == SideShort {
		pnl = -pnl
	}
	m.balance += pnl

	if p.Quantity >= pos.Quantity {
		delete(m.positions, p.Symbol)
		return
	}
	pos.Quantity -= p.Quantity
}

func (m *MockClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error { return nil }

func (m *MockClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error) {
	return &OrderResponse{OrderID: orderID, Symbol: symbol, Status: OrderStatusFilled}, nil
}

func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[symbol]; ok {
		pos.Leverage = leverage
	}
	return nil
}

func (m *MockClient) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	cp.MarkPrice = m.lastPrice(symbol)
	cp.UnrealizedPnL = unrealized(cp)
	return &cp, nil
}

func unrealized(p Position) float64 {
	pnl := (p.MarkPrice - p.EntryPrice) * p.Quantity
	if p.Side == SideShort {
		pnl = -pnl
	}
	return pnl
}

func (m *MockClient) GetAccountBalance(ctx context.Context) (*AccountBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var unrealizedTotal float64
	for symbol, pos := range m.positions {
		cp := *pos
		cp.MarkPrice = m.lastPrice(symbol)
		unrealizedTotal += unrealized(cp)
	}
	return &AccountBalance{
		TotalWalletBalance: m.balance,
		AvailableBalance:   math.Max(0, m.balance),
		TotalUnrealizedPnL: unrealizedTotal,
	}, nil
}

var _ Client = (*MockClient)(nil)
