// Package ledger implements the Position Ledger and Balance Ledger
// (component G): the authoritative in-process view of open positions and
// margin reservations, with a single mutex serializing every mutating
// operation so the concurrency model's single-writer requirement holds
// regardless of how many symbol goroutines call in concurrently.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ksedatech/perp-sentinel/internal/exchange"
)

// Status is a Position's lifecycle state; transitions are monotonic
// (open -> closed, never reverse).
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is one ledger entry, per the §3 data model.
type Position struct {
	TradeID     string
	Symbol      string
	Side        exchange.Side
	Quantity    float64
	EntryPrice  float64
	Leverage    int
	EntryFee    float64
	Status      Status
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ExitPrice   *float64
	RealizedPnL *float64
}

// Errors the ledger returns for invariant violations (§7: LedgerViolation
// is fatal for the tick, not for the process — the ledger itself never
// corrupts state because every mutation is lock-guarded).
var (
	ErrMaxPositionsReached  = errors.New("ledger: max open positions reached")
	ErrCorrelationBlocked   = errors.New("ledger: crypto correlation")
	ErrAlreadyOpenForSymbol = errors.New("ledger: position already open for symbol")
	ErrInsufficientBalance  = errors.New("ledger: insufficient balance for reservation")
	ErrPositionNotFound     = errors.New("ledger: position not found")
	ErrPositionNotOpen      = errors.New("ledger: position not open")
)

const takerFeeRate = 0.0004

// Ledger is the single-writer in-process store. Every public method that
// mutates state takes mu for its whole duration; readers also take it
// (RWMutex would allow torn reads of the reservations map mid-mutation,
// so a single sync.Mutex is used throughout, mirroring the spec's
// single-writer-actor requirement).
type Ledger struct {
	mu sync.Mutex

	balance      float64
	positions    map[string]*Position            // tradeID -> position
	bySymbol     map[string]string                // symbol -> open tradeID
	reservations map[string]float64               // tradeID -> reserved margin

	maxPositions int
}

func NewLedger(startingBalance float64, maxPositions int) *Ledger {
	return &Ledger{
		balance:      startingBalance,
		positions:    make(map[string]*Position),
		bySymbol:     make(map[string]string),
		reservations: make(map[string]float64),
		maxPositions: maxPositions,
	}
}

// ActivePositions returns the current open set, optionally filtered to
// one symbol (pass "" for all symbols).
func (l *Ledger) ActivePositions(symbol string) []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Position
	for _, p := range l.positions {
		if p.Status != StatusOpen {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// ReserveMargin atomically checks and deducts against available balance.
// It does not mutate currentBalance; reservations are tracked separately
// so balance only ever changes on close (§4.G).
func (l *Ledger) ReserveMargin(tradeID string, amount float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserveMarginLocked(tradeID, amount)
}

func (l *Ledger) reserveMarginLocked(tradeID string, amount float64) (bool, error) {
	if l.freeMarginLocked() < amount {
		return false, ErrInsufficientBalance
	}
	l.reservations[tradeID] = amount
	return true, nil
}

// freeMarginLocked requires mu to already be held.
func (l *Ledger) freeMarginLocked() float64 {
	var reserved float64
	for _, r := range l.reservations {
		reserved += r
	}
	return l.balance - reserved
}

// OpenPosition inserts a new open row after the max-positions cap and the
// crypto-correlation rule (a new side must not oppose any existing open
// position across any symbol) both pass.
func (l *Ledger) OpenPosition(symbol string, side exchange.Side, quantity, entryPrice float64, leverage int, reservedMargin float64) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.bySymbol[symbol]; exists {
		return nil, ErrAlreadyOpenForSymbol
	}

	openCount := 0
	for _, p := range l.positions {
		if p.Status != StatusOpen {
			continue
		}
		openCount++
		if p.Side == side.Opposite() {
			return nil, ErrCorrelationBlocked
		}
	}
	if l.maxPositions > 0 && openCount >= l.maxPositions {
		return nil, ErrMaxPositionsReached
	}

	tradeID := uuid.NewString()
	ok, err := l.reserveMarginLocked(tradeID, reservedMargin)
	if !ok {
		return nil, err
	}

	entryFee := quantity * entryPrice * takerFeeRate
	pos := &Position{
		TradeID: tradeID, Symbol: symbol, Side: side, Quantity: quantity,
		EntryPrice: entryPrice, Leverage: leverage, EntryFee: entryFee,
		Status: StatusOpen, OpenedAt: time.Now(),
	}
	l.positions[tradeID] = pos
	l.bySymbol[symbol] = tradeID

	cp := *pos
	return &cp, nil
}

// ClosePosition is idempotent: closing an already-closed trade returns
// its existing result rather than erroring or double-booking P&L.
func (l *Ledger) ClosePosition(tradeID string, exitPrice float64) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, err := l.closePositionLocked(tradeID, exitPrice)
	if err != nil {
		return nil, err
	}
	cp := *pos
	return &cp, nil
}

func (l *Ledger) closePositionLocked(tradeID string, exitPrice float64) (*Position, error) {
	pos, ok := l.positions[tradeID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.Status == StatusClosed {
		return pos, nil // idempotent: second close(t) == first close(t)
	}

	grossPnL := (exitPrice - pos.EntryPrice) * pos.Quantity
	if pos.Side == exchange.SideShort {
		grossPnL = -grossPnL
	}
	exitFee := pos.Quantity * exitPrice * takerFeeRate
	realized := grossPnL - pos.EntryFee - exitFee

	now := time.Now()
	pos.Status = StatusClosed
	pos.ClosedAt = &now
	pos.ExitPrice = &exitPrice
	pos.RealizedPnL = &realized

	l.balance += realized
	delete(l.reservations, tradeID)
	delete(l.bySymbol, pos.Symbol)

	return pos, nil
}

// InvertPosition closes the existing open row on symbol and, on success,
// opens the opposite side. It emits one close + one open as a single
// atomic ledger operation (the caller is responsible for publishing the
// corresponding bus events once this returns).
func (l *Ledger) InvertPosition(symbol string, exitPrice float64, newQuantity float64, leverage int, reservedMargin float64) (closed *Position, opened *Position, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tradeID, exists := l.bySymbol[symbol]
	if !exists {
		return nil, nil, ErrPositionNotFound
	}
	existing := l.positions[tradeID]
	oppositeSide := existing.Side.Opposite()

	closedPos, err := l.closePositionLocked(tradeID, exitPrice)
	if err != nil {
		return nil, nil, err
	}

	newTradeID := uuid.NewString()
	ok, err := l.reserveMarginLocked(newTradeID, reservedMargin)
	if !ok {
		cp := *closedPos
		return &cp, nil, fmt.Errorf("invert: reopen failed: %w", err)
	}

	entryFee := newQuantity * exitPrice * takerFeeRate
	newPos := &Position{
		TradeID: newTradeID, Symbol: symbol, Side: oppositeSide, Quantity: newQuantity,
		EntryPrice: exitPrice, Leverage: leverage, EntryFee: entryFee,
		Status: StatusOpen, OpenedAt: time.Now(),
	}
	l.positions[newTradeID] = newPos
	l.bySymbol[symbol] = newTradeID

	cc, co := *closedPos, *newPos
	return &cc, &co, nil
}

// CurrentBalance returns the realized-P&L-adjusted scalar balance.
func (l *Ledger) CurrentBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Equity returns balance + sum of unrealized P&L across open positions,
// given a mark-price lookup.
func (l *Ledger) Equity(markPrice func(symbol string) float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	equity := l.balance
	for _, p := range l.positions {
		if p.Status != StatusOpen {
			continue
		}
		mp := markPrice(p.Symbol)
		pnl := (mp - p.EntryPrice) * p.Quantity
		if p.Side == exchange.SideShort {
			pnl = -pnl
		}
		equity += pnl
	}
	return equity
}

// FreeMargin returns equity minus total reserved margin.
func (l *Ledger) FreeMargin(markPrice func(symbol string) float64) float64 {
	l.mu.Lock()
	equity := l.balance
	for _, p := range l.positions {
		if p.Status != StatusOpen {
			continue
		}
		mp := markPrice(p.Symbol)
		pnl := (mp - p.EntryPrice) * p.Quantity
		if p.Side == exchange.SideShort {
			pnl = -pnl
		}
		equity += pnl
	}
	free := equity - l.reservedTotalLocked()
	l.mu.Unlock()
	return free
}

func (l *Ledger) reservedTotalLocked() float64 {
	var total float64
	for _, r := range l.reservations {
		total += r
	}
	return total
}

// ReservedTotal returns the sum of all outstanding margin reservations.
func (l *Ledger) ReservedTotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reservedTotalLocked()
}

// Reset reinitializes the ledger to a fresh starting balance with no open
// positions or reservations, for the operator's account-reset endpoint.
func (l *Ledger) Reset(startingBalance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = startingBalance
	l.positions = make(map[string]*Position)
	l.bySymbol = make(map[string]string)
	l.reservations = make(map[string]float64)
}

// PositionForSymbol returns the open position for symbol, if any.
func (l *Ledger) PositionForSymbol(symbol string) (*Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tradeID, exists := l.bySymbol[symbol]
	if !exists {
		return nil, false
	}
	cp := *l.positions[tradeID]
	return &cp, true
}

// PositionByID looks up any known position (open or closed) by trade ID,
// used by the operator API to resolve a manual-close request's target
// before placing the closing order.
func (l *Ledger) PositionByID(tradeID string) (*Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[tradeID]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}
