package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID, used to correlate all log
// lines emitted by a single orchestrator tick.
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger stashed in ctx, or Default() if none.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext returns a context carrying l.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext stamps ctx with a fresh trace ID and returns a logger
// scoped to it.
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TickContext creates a logger scoped to one orchestrator tick of one
// symbol.
func TickContext(symbol string) (context.Context, *Logger) {
	ctx, l := WithTraceContext(context.Background())
	l = l.WithField("symbol", symbol).WithComponent("orchestrator")
	return NewContext(ctx, l), l
}

// SignalContext creates a logger context for strategy synthesis output.
func SignalContext(symbol, action string, confidence float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"action":     action,
		"confidence": confidence,
	}).WithComponent("strategy")
}

// FilterContext creates a logger context for a single filter evaluation.
func FilterContext(symbol, filterName string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol": symbol,
		"filter": filterName,
	}).WithComponent("filters")
}

// PositionContext creates a logger context for ledger position mutations.
func PositionContext(symbol, side string, entryPrice, quantity float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":      symbol,
		"side":        side,
		"entry_price": entryPrice,
		"quantity":    quantity,
	}).WithComponent("ledger")
}

// OrderContext creates a logger context for execution gateway operations.
func OrderContext(orderID, symbol, side, orderType string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"order_id":   orderID,
		"symbol":     symbol,
		"side":       side,
		"order_type": orderType,
	}).WithComponent("execution")
}

// RegimeContext creates a logger context for regime-engine recalculation.
func RegimeContext(symbol, regime string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol": symbol,
		"regime": regime,
	}).WithComponent("regime")
}

// LLMContext creates a logger context for LLM adapter calls.
func LLMContext(provider, model string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"provider": provider,
		"model":    model,
	}).WithComponent("llm")
}

// ExchangeContext creates a logger context for market data / order
// placement calls against the venue.
func ExchangeContext(endpoint, symbol string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"symbol":   symbol,
	}).WithComponent("exchange")
}

// APIContext creates a logger context for operator HTTP surface requests.
func APIContext(method, path string, statusCode int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	}).WithComponent("api")
}

// DatabaseContext creates a logger context for persistence operations.
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}
