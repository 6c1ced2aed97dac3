package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/ksedatech/perp-sentinel/internal/cache"
	"github.com/ksedatech/perp-sentinel/internal/execution"
	"github.com/ksedatech/perp-sentinel/internal/ledger"
)

// handleStats reports process-level health the dashboard's header strip
// shows: uptime, memory/CPU via gopsutil, circuit breaker state, and
// connected WebSocket client count.
func (s *Server) handleStats(c *gin.Context) {
	uptime := time.Since(s.startedAt)
	resp := gin.H{
		"uptime_seconds": uptime.Seconds(),
		"uptime_human":   humanize.RelTime(s.startedAt, time.Now(), "ago", ""),
		"breaker":        s.breaker.GetStats(),
		"ws_clients":     s.hub.ClientCount(),
		"open_positions": len(s.posLedger.ActivePositions("")),
	}

	if s.process != nil {
		if pct, err := s.process.CPUPercent(); err == nil {
			resp["cpu_percent"] = pct
		}
		if mem, err := s.process.MemoryInfo(); err == nil && mem != nil {
			resp["memory_rss_bytes"] = mem.RSS
			resp["memory_rss_human"] = humanize.Bytes(mem.RSS)
		}
	}

	if s.cacheSvc != nil {
		resp["cache"] = s.cacheSvc.GetStats()
	}

	c.JSON(http.StatusOK, resp)
}

// handleMarketSnapshot serves the last market snapshot the orchestrator
// mirrored into Redis for symbol (price, EMA trend, regime), letting the
// dashboard read it without the request ever touching the exchange or
// recomputing indicators itself. 404s when caching is disabled or the
// snapshot has expired/never been written.
func (s *Server) handleMarketSnapshot(c *gin.Context) {
	if s.cacheSvc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "market snapshot cache not enabled"})
		return
	}
	symbol := c.Param("symbol")
	var snap map[string]interface{}
	err := s.cacheSvc.GetJSON(c.Request.Context(), cache.MarketSnapshotKey(symbol, "1m"), &snap)
	if errors.Is(err, redis.Nil) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for symbol"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleTrades returns paginated trade history from the durable store.
func (s *Server) handleTrades(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	trades, err := s.repo.TradeHistory(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// handleDecisions returns recent persisted decision records, optionally
// filtered by symbol.
func (s *Server) handleDecisions(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	symbol := c.Query("symbol")

	decisions, err := s.recorder.RecentDecisions(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

// handlePerformance returns the equity curve the dashboard charts.
func (s *Server) handlePerformance(c *gin.Context) {
	limit := queryInt(c, "limit", 500)

	history, err := s.repo.BalanceHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance_history": history})
}

// handleAccount reports the ledger's current balance/equity/margin and
// open positions.
func (s *Server) handleAccount(c *gin.Context) {
	markPrice := func(symbol string) float64 {
		mp, err := s.client.GetMarkPrice(c.Request.Context(), symbol)
		if err != nil {
			return 0
		}
		return mp.Price
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":    s.posLedger.CurrentBalance(),
		"equity":     s.posLedger.Equity(markPrice),
		"free_margin": s.posLedger.FreeMargin(markPrice),
		"positions":  s.posLedger.ActivePositions(""),
	})
}

// handleCloseTrade places an opposite-side order of the position's size
// (through the execution gateway, which does not set the reduce-only
// flag), then marks the ledger row closed at the fill price.
func (s *Server) handleCloseTrade(c *gin.Context) {
	tradeID := c.Param("id")

	pos, ok := s.posLedger.PositionByID(tradeID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
		return
	}
	if pos.ClosedAt != nil {
		c.JSON(http.StatusOK, gin.H{"status": "already closed", "trade_id": tradeID})
		return
	}

	outcome, err := s.gateway.Place(c.Request.Context(), pos.Symbol, pos.Side.Opposite(), pos.Quantity, 1.0, "manual close")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if !outcome.Filled {
		c.JSON(http.StatusBadGateway, gin.H{"error": outcome.Reason})
		return
	}

	closed, err := s.posLedger.ClosePosition(tradeID, outcome.FillPrice)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.bus.PublishTradeClosed(closed.Symbol, closed.EntryPrice, outcome.FillPrice, closed.Quantity, *closed.RealizedPnL, pnlPercent(closed), "manual close")
	c.JSON(http.StatusOK, gin.H{"trade": closed})
}

// handleCloseAll closes every open position the same way handleCloseTrade
// closes one, best-effort: a single failed close doesn't block the rest.
func (s *Server) handleCloseAll(c *gin.Context) {
	open := s.posLedger.ActivePositions("")
	results := make([]gin.H, 0, len(open))

	for _, pos := range open {
		outcome, err := s.gateway.Place(c.Request.Context(), pos.Symbol, pos.Side.Opposite(), pos.Quantity, 1.0, "manual close-all")
		if err != nil || !outcome.Filled {
			results = append(results, gin.H{"trade_id": pos.TradeID, "error": errString(err, outcome)})
			continue
		}
		closed, err := s.posLedger.ClosePosition(pos.TradeID, outcome.FillPrice)
		if err != nil {
			results = append(results, gin.H{"trade_id": pos.TradeID, "error": err.Error()})
			continue
		}
		s.bus.PublishTradeClosed(closed.Symbol, closed.EntryPrice, outcome.FillPrice, closed.Quantity, *closed.RealizedPnL, pnlPercent(closed), "manual close-all")
		results = append(results, gin.H{"trade_id": pos.TradeID, "status": "closed"})
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleReset force-resets the circuit breaker's trip state without
// touching the ledger, for an operator who wants to resume trading after
// investigating a trip.
func (s *Server) handleReset(c *gin.Context) {
	s.breaker.ForceReset()
	c.JSON(http.StatusOK, gin.H{"status": "breaker reset"})
}

// handleAccountReset resets the ledger to a fresh starting balance,
// discarding every open position — an explicit, destructive operator
// action used between paper-trading runs.
func (s *Server) handleAccountReset(c *gin.Context) {
	var body struct {
		StartingBalance float64 `json:"starting_balance"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.StartingBalance <= 0 {
		body.StartingBalance = s.posLedger.CurrentBalance()
	}
	s.posLedger.Reset(body.StartingBalance)
	c.JSON(http.StatusOK, gin.H{"status": "account reset", "starting_balance": body.StartingBalance})
}

func (s *Server) handleBacktestRun(c *gin.Context) {
	var body struct {
		Symbol string    `json:"symbol" binding:"required"`
		From   time.Time `json:"from" binding:"required"`
		To     time.Time `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtest runner not configured"})
		return
	}
	if err := s.backtest.Start(c.Request.Context(), body.Symbol, body.From, body.To); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) handleBacktestStop(c *gin.Context) {
	if s.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtest runner not configured"})
		return
	}
	s.backtest.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// pnlPercent expresses a closed position's realized PnL as a percentage
// of the margin it committed (entry price * quantity / leverage).
func pnlPercent(pos *ledger.Position) float64 {
	if pos.RealizedPnL == nil || pos.Leverage == 0 {
		return 0
	}
	notional := pos.EntryPrice * pos.Quantity
	margin := notional / float64(pos.Leverage)
	if margin == 0 {
		return 0
	}
	return *pos.RealizedPnL / margin * 100
}

func errString(err error, outcome *execution.Outcome) string {
	if err != nil {
		return err.Error()
	}
	if outcome != nil {
		return outcome.Reason
	}
	return "unknown error"
}
