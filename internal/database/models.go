package database

import "time"

// TradeRecord is the persisted row for a ledger position, written on open
// and updated on close.
type TradeRecord struct {
	TradeID     string
	Symbol      string
	Side        string
	Quantity    float64
	EntryPrice  float64
	ExitPrice   *float64
	Leverage    int
	EntryFee    float64
	Status      string
	RealizedPnL *float64
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// BalanceSnapshot is one point on the equity curve, sampled at tick cadence.
type BalanceSnapshot struct {
	Balance    float64
	Equity     float64
	RecordedAt time.Time
}
