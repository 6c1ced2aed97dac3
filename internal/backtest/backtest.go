// Package backtest replays historical candles through the same
// orchestrator tick pipeline the live agent runs, so a strategy change
// is validated against history with the exact decision core that will
// trade it, not a parallel simulation that can drift from production
// behavior.
package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/circuit"
	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/exchange"
	"github.com/ksedatech/perp-sentinel/internal/execution"
	"github.com/ksedatech/perp-sentinel/internal/filters"
	"github.com/ksedatech/perp-sentinel/internal/ledger"
	"github.com/ksedatech/perp-sentinel/internal/logging"
	"github.com/ksedatech/perp-sentinel/internal/orchestrator"
	"github.com/ksedatech/perp-sentinel/internal/orderbook"
	"github.com/ksedatech/perp-sentinel/internal/regime"
	"github.com/ksedatech/perp-sentinel/internal/strategy"
)

// warmup is how many leading candles are fed to the pipeline before the
// first tick, so indicator.Compute has enough history (it needs at
// least the EMA slow period plus ATR's lookback).
const warmup = 60

// EquityPoint is one sample on the replay's equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// TradeSummary is one closed position from the replay.
type TradeSummary struct {
	Symbol      string
	Side        string
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	PnL         float64
	PnLPercent  float64
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Result is the final summary of one replay run.
type Result struct {
	Symbol          string
	From, To        time.Time
	StartingBalance float64
	FinalBalance    float64
	FinalEquity     float64
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRate         float64
	NetProfit       float64
	ROIPercent      float64
	MaxDrawdownPct  float64
	Trades          []TradeSummary
	EquityCurve     []EquityPoint
}

// Runner drives one replay at a time; Start refuses a second concurrent
// run rather than interleaving two replays' progress events.
type Runner struct {
	baseCfg *config.Config
	client  exchange.Client
	bus     *events.Bus
	logger  *logging.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	progress float64
	result   *Result
}

func NewRunner(baseCfg *config.Config, client exchange.Client, bus *events.Bus) *Runner {
	return &Runner{baseCfg: baseCfg, client: client, bus: bus, logger: logging.WithComponent("backtest")}
}

// Start fetches the historical window and replays it in a background
// goroutine, one candle at a time, through a freshly constructed
// orchestrator/ledger pair isolated from the live trading instance.
func (r *Runner) Start(ctx context.Context, symbol string, from, to time.Time) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("backtest: a replay is already running")
	}
	r.running = true
	r.progress = 0
	r.result = nil
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	candles, err := r.client.GetHistoricalCandles(ctx, symbol, "1m", from, to)
	if err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("backtest: fetch history: %w", err)
	}
	if len(candles) <= warmup {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("backtest: history too short for a %d-candle warmup", warmup)
	}

	r.bus.PublishBacktestStatus(symbol, "started", "")
	go r.replay(runCtx, symbol, from, to, candles)
	return nil
}

// Stop cancels any in-flight replay; the replay goroutine persists
// whatever partial result it has accumulated before exiting.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && r.cancel != nil {
		r.cancel()
	}
}

// Status reports whether a replay is in flight, its progress, and the
// last completed result's summary (nil map if none yet).
func (r *Runner) Status() (running bool, progressPercent float64, summary map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return r.running, r.progress, nil
	}
	return r.running, r.progress, summaryOf(r.result)
}

func summaryOf(res *Result) map[string]interface{} {
	return map[string]interface{}{
		"symbol": res.Symbol, "total_trades": res.TotalTrades,
		"win_rate": res.WinRate, "net_profit": res.NetProfit,
		"roi_percent": res.ROIPercent, "max_drawdown_percent": res.MaxDrawdownPct,
	}
}

func (r *Runner) replay(ctx context.Context, symbol string, from, to time.Time, candles []exchange.Candle) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	cfg := *r.baseCfg
	cfg.Trading.Symbols = []string{symbol}

	mock := exchange.NewMockClient(cfg.Trading.StartingBalance, nil)
	bus := events.NewBus() // isolated: simulated fills never reach the live dashboard feed directly
	breaker := circuit.New(cfg.CircuitBreaker, bus)
	posLedger := ledger.NewLedger(cfg.Trading.StartingBalance, cfg.Trading.MaxOpenPositions)
	regimeEngine := regime.NewEngine(regime.NewDefaultThresholds())
	obAnalyzer := orderbook.NewAnalyzer(orderbook.NewDefaultConfig())
	synth := strategy.NewSynthesizer(strategy.Mode(cfg.Trading.Mode), nil, cfg.Risk.MinConfidence)
	filterStack := filters.NewStack(filters.NewDefaultConfig())
	gateway := execution.NewGateway(mock, bus)

	var closed []TradeSummary
	bus.Subscribe(events.TradeClosed, func(ev events.Event) {
		closed = append(closed, TradeSummary{
			Symbol:     str(ev.Data["symbol"]),
			EntryPrice: num(ev.Data["entry_price"]),
			ExitPrice:  num(ev.Data["exit_price"]),
			Quantity:   num(ev.Data["quantity"]),
			PnL:        num(ev.Data["pnl"]),
			PnLPercent: num(ev.Data["pnl_percent"]),
			ClosedAt:   ev.Timestamp,
		})
	})

	orch := orchestrator.New(&cfg, mock, bus, breaker, posLedger, regimeEngine, obAnalyzer, synth, filterStack, gateway, orchestrator.NoopRecorder{})

	equityCurve := make([]EquityPoint, 0, len(candles)-warmup)
	peakEquity := cfg.Trading.StartingBalance
	maxDrawdown := 0.0

	for i := warmup; i < len(candles); i++ {
		select {
		case <-ctx.Done():
			r.finish(symbol, from, to, cfg.Trading.StartingBalance, posLedger, closed, equityCurve, maxDrawdown, true)
			return
		default:
		}

		mock.SeedCandles(symbol, candles[:i+1])
		orch.TickOnce(ctx, symbol)

		equity := posLedger.Equity(func(string) float64 { return candles[i].Close })
		equityCurve = append(equityCurve, EquityPoint{Timestamp: candles[i].CloseTime, Equity: equity})
		if equity > peakEquity {
			peakEquity = equity
		}
		if dd := (peakEquity - equity) / peakEquity * 100; dd > maxDrawdown {
			maxDrawdown = dd
		}

		if i%50 == 0 || i == len(candles)-1 {
			processed := i - warmup + 1
			r.mu.Lock()
			r.progress = float64(processed) / float64(len(candles)-warmup) * 100
			r.mu.Unlock()
			r.bus.PublishBacktestProgress(symbol, r.progress, processed, len(candles)-warmup)
		}
	}

	r.finish(symbol, from, to, cfg.Trading.StartingBalance, posLedger, closed, equityCurve, maxDrawdown, false)
}

func (r *Runner) finish(symbol string, from, to time.Time, startingBalance float64, posLedger *ledger.Ledger, closed []TradeSummary, equityCurve []EquityPoint, maxDrawdown float64, stopped bool) {
	wins, losses := 0, 0
	for _, t := range closed {
		if t.PnL > 0 {
			wins++
		} else if t.PnL < 0 {
			losses++
		}
	}
	winRate := 0.0
	if len(closed) > 0 {
		winRate = float64(wins) / float64(len(closed)) * 100
	}
	finalBalance := posLedger.CurrentBalance()

	res := &Result{
		Symbol: symbol, From: from, To: to, StartingBalance: startingBalance,
		FinalBalance: finalBalance, FinalEquity: finalBalance,
		TotalTrades: len(closed), WinningTrades: wins, LosingTrades: losses,
		WinRate: winRate, NetProfit: finalBalance - startingBalance,
		ROIPercent:     (finalBalance - startingBalance) / startingBalance * 100,
		MaxDrawdownPct: maxDrawdown,
		Trades:         closed, EquityCurve: equityCurve,
	}

	r.mu.Lock()
	r.result = res
	r.mu.Unlock()

	status := "completed"
	if stopped {
		status = "stopped"
	}
	r.bus.PublishBacktestStatus(symbol, status, "")
	r.bus.PublishBacktestComplete(symbol, summaryOf(res))
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
