// Package exchange defines the venue-agnostic market data and order
// placement surface the rest of the agent is built against, plus a
// Binance USDT-M futures REST implementation and an in-memory mock used
// by tests and dry-run mode.
package exchange

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Trades    int64
}

// OrderBookLevel is one price/quantity rung of the book.
type OrderBookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol    string
	Bids      []OrderBookLevel // best bid first
	Asks      []OrderBookLevel // best ask first
	Timestamp time.Time
}

// BestBid returns the top bid level, or the zero value if the book is empty.
func (ob OrderBook) BestBid() OrderBookLevel {
	if len(ob.Bids) == 0 {
		return OrderBookLevel{}
	}
	return ob.Bids[0]
}

// BestAsk returns the top ask level, or the zero value if the book is empty.
func (ob OrderBook) BestAsk() OrderBookLevel {
	if len(ob.Asks) == 0 {
		return OrderBookLevel{}
	}
	return ob.Asks[0]
}

// MidPrice returns the midpoint of the best bid/ask, or zero if either side is empty.
func (ob OrderBook) MidPrice() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid.Price == 0 || ask.Price == 0 {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// MarkPrice is the venue's mark price used for PnL/liquidation math.
type MarkPrice struct {
	Symbol          string
	Price           float64
	IndexPrice      float64
	FundingRate     float64
	NextFundingTime time.Time
}

// FundingRate is a single historical funding payment rate.
type FundingRate struct {
	Symbol  string
	Rate    float64
	Time    time.Time
}

// Ticker is 24h rolling statistics for a symbol.
type Ticker struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	Volume             float64
	QuoteVolume        float64
}

// Side is a position/order direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderType identifies the order placement style the execution gateway uses.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// TimeInForce controls how an unfilled order is treated.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderParams describes a new order request.
type OrderParams struct {
	Symbol       string
	Side         Side
	Type         OrderType
	TimeInForce  TimeInForce
	Price        float64 // required for LIMIT
	Quantity     float64
	ReduceOnly   bool
	ClientOrderID string
}

// OrderStatus mirrors the venue's order lifecycle states.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// OrderResponse is the venue's response to a placed order.
type OrderResponse struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	Price         float64
	AvgFillPrice  float64
	ExecutedQty   float64
	OrigQty       float64
	Fee           float64
	UpdateTime    time.Time
}

// IsFilled reports whether the order ended up fully filled.
func (r OrderResponse) IsFilled() bool { return r.Status == OrderStatusFilled }

// Position is the venue's view of an open futures position.
type Position struct {
	Symbol           string
	Side             Side
	EntryPrice       float64
	MarkPrice        float64
	Quantity         float64
	Leverage         int
	UnrealizedPnL    float64
	LiquidationPrice float64
}

// AccountBalance is the venue's futures wallet balance snapshot.
type AccountBalance struct {
	TotalWalletBalance float64
	AvailableBalance   float64
	TotalUnrealizedPnL float64
}

// SymbolInfo describes a tradable symbol's precision and filters.
type SymbolInfo struct {
	Symbol            string
	PricePrecision    int
	QuantityPrecision int
	MinQuantity       float64
	MinNotional       float64
	TickSize          float64
}
