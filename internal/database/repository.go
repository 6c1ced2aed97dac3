package database

import (
	"context"
	"fmt"

	"github.com/ksedatech/perp-sentinel/internal/orchestrator"
	"github.com/ksedatech/perp-sentinel/internal/strategy"
)

// Recorder persists every orchestrator DecisionRecord as one row. It
// satisfies orchestrator.Recorder.
type Recorder struct {
	db *DB
}

func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) RecordDecision(ctx context.Context, rec orchestrator.DecisionRecord) error {
	const query = `
		INSERT INTO decisions (symbol, decision, confidence, reasoning, price, executed, trade_id, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var tradeID, errText interface{}
	if rec.TradeID != "" {
		tradeID = rec.TradeID
	}
	if rec.Error != "" {
		errText = rec.Error
	}

	_, err := r.db.Pool.Exec(ctx, query,
		rec.Symbol, string(rec.Decision), rec.Confidence, rec.Reasoning,
		rec.Price, rec.Executed, tradeID, errText, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("database: record decision: %w", err)
	}
	return nil
}

// RecentDecisions returns the most recent decisions for a symbol (empty
// symbol means all symbols), newest first, for the operator surface's
// GET /api/decisions endpoint.
func (r *Recorder) RecentDecisions(ctx context.Context, symbol string, limit int) ([]orchestrator.DecisionRecord, error) {
	const query = `
		SELECT symbol, decision, confidence, reasoning, price, executed,
			COALESCE(trade_id, ''), COALESCE(error, ''), created_at
		FROM decisions
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("database: recent decisions: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.DecisionRecord
	for rows.Next() {
		var rec orchestrator.DecisionRecord
		var decision string
		if err := rows.Scan(&rec.Symbol, &decision, &rec.Confidence, &rec.Reasoning,
			&rec.Price, &rec.Executed, &rec.TradeID, &rec.Error, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("database: scan decision: %w", err)
		}
		rec.Decision = strategy.Decision(decision)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertTrade writes a trade's current state (open or closed) keyed by
// trade_id. Nothing in this module calls it: the orchestrator's
// open/invert/close paths do not write to the trades table.
func (r *Repository) UpsertTrade(ctx context.Context, t TradeRecord) error {
	const query = `
		INSERT INTO trades (trade_id, symbol, side, quantity, entry_price, exit_price,
			leverage, entry_fee, status, realized_pnl, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (trade_id) DO UPDATE SET
			exit_price = EXCLUDED.exit_price,
			status = EXCLUDED.status,
			realized_pnl = EXCLUDED.realized_pnl,
			closed_at = EXCLUDED.closed_at`

	_, err := r.db.Pool.Exec(ctx, query,
		t.TradeID, t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice,
		t.Leverage, t.EntryFee, t.Status, t.RealizedPnL, t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("database: upsert trade: %w", err)
	}
	return nil
}

// TradeHistory returns closed and open trades, newest first, for the
// operator surface's GET /api/trades endpoint.
func (r *Repository) TradeHistory(ctx context.Context, limit, offset int) ([]TradeRecord, error) {
	const query = `
		SELECT trade_id, symbol, side, quantity, entry_price, exit_price,
			leverage, entry_fee, status, realized_pnl, opened_at, closed_at
		FROM trades
		ORDER BY opened_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("database: trade history: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.TradeID, &t.Symbol, &t.Side, &t.Quantity, &t.EntryPrice,
			&t.ExitPrice, &t.Leverage, &t.EntryFee, &t.Status, &t.RealizedPnL,
			&t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("database: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordBalance appends one equity-curve sample to the table the operator
// surface's GET /api/performance endpoint reads. Nothing in this module
// calls it.
func (r *Repository) RecordBalance(ctx context.Context, snap BalanceSnapshot) error {
	const query = `INSERT INTO balance_history (balance, equity, recorded_at) VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, query, snap.Balance, snap.Equity, snap.RecordedAt)
	if err != nil {
		return fmt.Errorf("database: record balance: %w", err)
	}
	return nil
}

// BalanceHistory returns the most recent `limit` equity-curve samples,
// oldest first.
func (r *Repository) BalanceHistory(ctx context.Context, limit int) ([]BalanceSnapshot, error) {
	const query = `
		SELECT balance, equity, recorded_at
		FROM balance_history
		ORDER BY recorded_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("database: balance history: %w", err)
	}
	defer rows.Close()

	var out []BalanceSnapshot
	for rows.Next() {
		var s BalanceSnapshot
		if err := rows.Scan(&s.Balance, &s.Equity, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("database: scan balance: %w", err)
		}
		out = append(out, s)
	}
	// reverse to oldest-first for charting
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Repository groups the trade/balance read-write surface; the operator API
// reads through it, and its write methods have no caller in the agent's
// tick loop. Recorder above handles
// the decision-record write path alone since it must satisfy
// orchestrator.Recorder without pulling in the rest of this surface.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}
