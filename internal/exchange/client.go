package exchange

import (
	"context"
	"time"
)

// Client is the venue-agnostic surface every component reads market
// data from and routes orders through. Both the REST implementation and
// MockClient satisfy it, so the orchestrator, execution gateway and
// ledger never import the concrete Binance types directly.
type Client interface {
	// Market data

	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	// GetHistoricalCandles paginates through every candle between from
	// and to, for the backtest runner's replay window; live ticks use
	// GetCandles instead since they only ever need the trailing window.
	GetHistoricalCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]Candle, error)
	GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error)
	GetMarkPrice(ctx context.Context, symbol string) (*MarkPrice, error)
	GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error)
	GetTicker24h(ctx context.Context, symbol string) (*Ticker, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)

	// Trading

	PlaceOrder(ctx context.Context, params OrderParams) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Account

	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetAccountBalance(ctx context.Context) (*AccountBalance, error)
}
