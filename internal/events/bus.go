// Package events implements the agent's internal event bus: the single
// channel through which the orchestrator (including ledger transitions),
// execution gateway and circuit breaker announce state changes, decoupled from whoever is
// listening (the operator API's WebSocket hub, structured logs, tests).
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event carried on the bus.
type Type string

const (
	TradeOpened       Type = "TRADE_OPENED"
	TradeClosed       Type = "TRADE_CLOSED"
	TradeUpdate       Type = "TRADE_UPDATE"
	OrderPlaced       Type = "ORDER_PLACED"
	OrderFilled       Type = "ORDER_FILLED"
	OrderCancelled    Type = "ORDER_CANCELLED"
	OrderRejected     Type = "ORDER_REJECTED"
	SignalGenerated   Type = "SIGNAL_GENERATED"
	FilterVetoed      Type = "FILTER_VETOED"
	PositionUpdate    Type = "POSITION_UPDATE"
	BalanceUpdate     Type = "BALANCE_UPDATE"
	RegimeChanged     Type = "REGIME_CHANGED"
	CircuitBreaker    Type = "CIRCUIT_BREAKER_UPDATE"
	TickCompleted     Type = "TICK_COMPLETED"
	AgentStarted      Type = "AGENT_STARTED"
	AgentStopped      Type = "AGENT_STOPPED"
	SystemError       Type = "SYSTEM_ERROR"
	BacktestProgress  Type = "BACKTEST_PROGRESS"
	BacktestStatus    Type = "BACKTEST_STATUS"
	BacktestComplete  Type = "BACKTEST_COMPLETE"
)

// Event is one item published on the bus.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber receives events. Subscribers must not block; Publish
// invokes each subscriber in its own goroutine precisely so a slow
// dashboard client can never stall the orchestrator's tick loop.
type Subscriber func(Event)

// Bus fans an Event out to every interested subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Type][]Subscriber)}
}

// Subscribe registers fn for events of type t only.
func (b *Bus) Subscribe(t Type, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], fn)
}

// SubscribeAll registers fn for every event, regardless of type. The
// operator API's WebSocket hub uses this to mirror the whole bus to
// connected dashboard clients.
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, fn)
}

// Publish delivers ev to all matching subscribers.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[ev.Type] {
		go sub(ev)
	}
	for _, sub := range b.allSubs {
		go sub(ev)
	}
}

// PublishTradeOpened announces a new ledger position.
func (b *Bus) PublishTradeOpened(symbol, side string, entryPrice, quantity float64, leverage int) {
	b.Publish(Event{Type: TradeOpened, Data: map[string]interface{}{
		"symbol": symbol, "side": side, "entry_price": entryPrice, "quantity": quantity, "leverage": leverage,
	}})
}

// PublishTradeClosed announces a closed position and its realized PnL.
func (b *Bus) PublishTradeClosed(symbol string, entryPrice, exitPrice, quantity, pnl, pnlPercent float64, reason string) {
	b.Publish(Event{Type: TradeClosed, Data: map[string]interface{}{
		"symbol": symbol, "entry_price": entryPrice, "exit_price": exitPrice,
		"quantity": quantity, "pnl": pnl, "pnl_percent": pnlPercent, "reason": reason,
	}})
}

// PublishSignal announces strategy synthesis output, whether or not it
// survives the filter stack.
func (b *Bus) PublishSignal(symbol, mode, action string, confidence float64, reason string) {
	b.Publish(Event{Type: SignalGenerated, Data: map[string]interface{}{
		"symbol": symbol, "mode": mode, "action": action, "confidence": confidence, "reason": reason,
	}})
}

// PublishFilterVeto announces that the filter stack turned a signal into HOLD.
func (b *Bus) PublishFilterVeto(symbol, filterName, reason string) {
	b.Publish(Event{Type: FilterVetoed, Data: map[string]interface{}{
		"symbol": symbol, "filter": filterName, "reason": reason,
	}})
}

// PublishOrder announces an execution gateway state transition.
func (b *Bus) PublishOrder(t Type, orderID, symbol, side, orderType string, price, quantity float64) {
	b.Publish(Event{Type: t, Data: map[string]interface{}{
		"order_id": orderID, "symbol": symbol, "side": side,
		"order_type": orderType, "price": price, "quantity": quantity,
	}})
}

// PublishPositionUpdate announces a mark-to-market refresh of an open position.
func (b *Bus) PublishPositionUpdate(symbol string, entryPrice, markPrice, quantity, pnl, pnlPercent float64) {
	b.Publish(Event{Type: PositionUpdate, Data: map[string]interface{}{
		"symbol": symbol, "entry_price": entryPrice, "mark_price": markPrice,
		"quantity": quantity, "pnl": pnl, "pnl_percent": pnlPercent,
	}})
}

// PublishBalanceUpdate announces a ledger balance/equity change.
func (b *Bus) PublishBalanceUpdate(balance, equity, freeMargin float64) {
	b.Publish(Event{Type: BalanceUpdate, Data: map[string]interface{}{
		"balance": balance, "equity": equity, "free_margin": freeMargin,
	}})
}

// PublishRegimeChanged announces the regime engine reclassifying a symbol.
func (b *Bus) PublishRegimeChanged(symbol, regime string, volatility, trendStrength float64) {
	b.Publish(Event{Type: RegimeChanged, Data: map[string]interface{}{
		"symbol": symbol, "regime": regime, "volatility": volatility, "trend_strength": trendStrength,
	}})
}

// PublishCircuitBreaker announces a circuit breaker state transition.
func (b *Bus) PublishCircuitBreaker(state, action, reason string) {
	b.Publish(Event{Type: CircuitBreaker, Data: map[string]interface{}{
		"state": state, "action": action, "reason": reason,
	}})
}

// PublishBacktestProgress announces replay progress as a 0-100 percentage.
func (b *Bus) PublishBacktestProgress(symbol string, percent float64, candlesProcessed, totalCandles int) {
	b.Publish(Event{Type: BacktestProgress, Data: map[string]interface{}{
		"symbol": symbol, "percent": percent,
		"candles_processed": candlesProcessed, "total_candles": totalCandles,
	}})
}

// PublishBacktestStatus announces a lifecycle transition (started, completed, stopped).
func (b *Bus) PublishBacktestStatus(symbol, status, reason string) {
	b.Publish(Event{Type: BacktestStatus, Data: map[string]interface{}{
		"symbol": symbol, "status": status, "reason": reason,
	}})
}

// PublishBacktestComplete announces the final summary once a replay finishes.
func (b *Bus) PublishBacktestComplete(symbol string, summary map[string]interface{}) {
	data := map[string]interface{}{"symbol": symbol}
	for k, v := range summary {
		data[k] = v
	}
	b.Publish(Event{Type: BacktestComplete, Data: data})
}

// PublishError announces a non-fatal operational error for dashboard visibility.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{"source": source, "message": message}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: SystemError, Data: data})
}
