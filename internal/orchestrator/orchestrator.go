// Package orchestrator implements the Trade Loop Orchestrator (component
// I): it drives the agent's per-tick decision cycle, fanning out one
// goroutine per symbol, reconciling every tentative signal against the
// position ledger before it ever reaches the execution gateway, and
// guaranteeing exactly one persisted decision record per symbol per
// tick regardless of how far through the pipeline the tick got.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/cache"
	"github.com/ksedatech/perp-sentinel/internal/circuit"
	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/exchange"
	"github.com/ksedatech/perp-sentinel/internal/execution"
	"github.com/ksedatech/perp-sentinel/internal/filters"
	"github.com/ksedatech/perp-sentinel/internal/indicator"
	"github.com/ksedatech/perp-sentinel/internal/ledger"
	"github.com/ksedatech/perp-sentinel/internal/logging"
	"github.com/ksedatech/perp-sentinel/internal/orderbook"
	"github.com/ksedatech/perp-sentinel/internal/regime"
	"github.com/ksedatech/perp-sentinel/internal/strategy"
)

// tickDeadline bounds every external call a tick makes, per §5's
// cancellation/timeout model.
const tickDeadline = 30 * time.Second

// stabilityRingSize is how many past signals each symbol remembers for
// the stability and quick-exit checks.
const stabilityRingSize = 10

// quickExitConfidenceFloor is S5's fixed confidence requirement for a
// quick exit: unlike the stability gate's effectiveThreshold (which can
// run as high as 0.70+ per mode), closing an existing position early
// only needs the reversing signal to clear a flat 0.60.
const quickExitConfidenceFloor = 0.60

// DecisionRecord is the persisted-once-per-tick row the spec's
// ai_decisions table models; internal/database's Recorder implementation
// writes it through, tests can assert against an in-memory stand-in.
type DecisionRecord struct {
	Symbol     string
	Timestamp  time.Time
	Decision   strategy.Decision
	Confidence float64
	Reasoning  string
	Price      float64
	Executed   bool
	TradeID    string
	Error      string
}

// Recorder persists one DecisionRecord per tick. Implementations must
// not block the tick for long; internal/database's pgx-backed Recorder
// runs its insert with the tick's own deadline.
type Recorder interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error
}

// NoopRecorder discards decisions; used when no persistent store is
// configured (DATABASE_ENABLED=false).
type NoopRecorder struct{}

func (NoopRecorder) RecordDecision(context.Context, DecisionRecord) error { return nil }

// symbolState is mutable state touched only by that symbol's own
// serialized tick goroutine (§5: "lock-free" per-symbol trackers), so it
// carries no mutex of its own.
type symbolState struct {
	signalHistory     []strategy.Decision
	reversalTimestamps []time.Time
	lastTradeAt       time.Time
	consecutiveLosses int
	tradesToday       int
	dailyPnLPercent   float64
	countersDay       int // day-of-year the daily counters were last reset for
	lastPrice         float64
}

func newSymbolState() *symbolState {
	return &symbolState{signalHistory: make([]strategy.Decision, 0, stabilityRingSize)}
}

func (s *symbolState) pushSignal(d strategy.Decision) {
	s.signalHistory = append(s.signalHistory, d)
	if len(s.signalHistory) > stabilityRingSize {
		s.signalHistory = s.signalHistory[len(s.signalHistory)-stabilityRingSize:]
	}
}

func (s *symbolState) tailAll(n int, want strategy.Decision) bool {
	if n <= 0 || len(s.signalHistory) < n {
		return false
	}
	tail := s.signalHistory[len(s.signalHistory)-n:]
	for _, d := range tail {
		if d != want {
			return false
		}
	}
	return true
}

func (s *symbolState) pruneReversals(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := s.reversalTimestamps[:0]
	for _, t := range s.reversalTimestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.reversalTimestamps = kept
}

// Orchestrator wires the full decision pipeline together and drives it
// on a schedule. All fields set at construction are read-only after
// Run starts; the only mutable state touched concurrently is the
// symbolStates map, which is populated once up front (one entry per
// configured symbol) and never grows afterward, so concurrent per-
// symbol goroutines reading/writing their own entry need no lock.
type Orchestrator struct {
	cfg *config.Config

	client      exchange.Client
	bus         *events.Bus
	breaker     *circuit.Breaker
	posLedger   *ledger.Ledger
	regimeEngine *regime.Engine
	obAnalyzer  *orderbook.Analyzer
	synth       *strategy.Synthesizer
	filterStack *filters.Stack
	gateway     *execution.Gateway
	recorder    Recorder
	logger      *logging.Logger

	// cacheSvc is optional; when set, every tick mirrors a market
	// snapshot into Redis for the operator API's GET /api/market/:symbol
	// to serve without re-touching the exchange or recomputing
	// indicators.
	cacheSvc *cache.Service

	symbolStates map[string]*symbolState

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New assembles an Orchestrator from its already-constructed
// dependencies. Construction failures (bad mode, missing adapter) are
// the caller's (cmd/agent's) responsibility to surface as ConfigError.
func New(
	cfg *config.Config,
	client exchange.Client,
	bus *events.Bus,
	breaker *circuit.Breaker,
	posLedger *ledger.Ledger,
	regimeEngine *regime.Engine,
	obAnalyzer *orderbook.Analyzer,
	synth *strategy.Synthesizer,
	filterStack *filters.Stack,
	gateway *execution.Gateway,
	recorder Recorder,
) *Orchestrator {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	states := make(map[string]*symbolState, len(cfg.Trading.Symbols))
	for _, sym := range cfg.Trading.Symbols {
		states[sym] = newSymbolState()
	}
	return &Orchestrator{
		cfg: cfg, client: client, bus: bus, breaker: breaker,
		posLedger: posLedger, regimeEngine: regimeEngine, obAnalyzer: obAnalyzer,
		synth: synth, filterStack: filterStack, gateway: gateway, recorder: recorder,
		logger: logging.WithComponent("orchestrator"),
		symbolStates: states,
		stopCh:       make(chan struct{}),
	}
}

// SetCache attaches the Redis-backed cache service used to publish
// market snapshots; optional, since the agent runs fine without it.
func (o *Orchestrator) SetCache(c *cache.Service) {
	o.cacheSvc = c
}

// MarketSnapshot is the per-symbol summary mirrored into Redis each tick
// for the operator API to serve without touching the exchange directly.
type MarketSnapshot struct {
	Symbol    string          `json:"symbol"`
	Price     float64         `json:"price"`
	EMATrend  indicator.Trend `json:"ema_trend"`
	Regime    regime.Regime   `json:"regime"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// publishMarketSnapshot mirrors symbol's latest price/trend/regime into
// Redis, best-effort; a cache miss or write failure never affects the
// decision pipeline since cacheSvc is purely a read-side convenience.
func (o *Orchestrator) publishMarketSnapshot(symbol string, price float64, ind *indicator.Set) {
	if o.cacheSvc == nil {
		return
	}
	snap := MarketSnapshot{
		Symbol: symbol, Price: price, EMATrend: ind.EMATrend(),
		Regime: o.regimeEngine.Snapshot(symbol).Regime, UpdatedAt: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = o.cacheSvc.SetJSON(ctx, cache.MarketSnapshotKey(symbol, "1m"), snap, cache.DefaultMarketSnapshotTTL)
}

// Run drives the tick loop until ctx is cancelled. On cancellation it
// stops accepting new ticks, waits for any in-flight tick to finish
// (bounded by tickDeadline), then returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.bus.Publish(events.Event{Type: events.AgentStarted})
	defer o.bus.Publish(events.Event{Type: events.AgentStopped})

	if o.cfg.Trading.Cron != "" {
		return o.runCron(ctx)
	}
	return o.runTicker(ctx)
}

func (o *Orchestrator) runTicker(ctx context.Context) error {
	interval := o.cfg.Trading.TickInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
			o.tickAll(ctx)
		}
	}
}

func (o *Orchestrator) runCron(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(o.cfg.Trading.Cron, func() { o.tickAll(ctx) })
	if err != nil {
		return fmt.Errorf("orchestrator: invalid cron expression %q: %w", o.cfg.Trading.Cron, err)
	}
	c.Start()
	<-ctx.Done()
	cronCtx := c.Stop() // stops new invocations, lets running jobs finish
	<-cronCtx.Done()
	o.shutdown()
	return nil
}

// shutdown waits for any tick goroutines still in flight, bounded by
// tickDeadline so a stuck external call can never hang the process.
func (o *Orchestrator) shutdown() {
	o.stopOnce.Do(func() { close(o.stopCh) })

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(tickDeadline):
		o.logger.Warn("shutdown deadline exceeded with ticks still in flight")
	}
}

// TickOnce runs the same 9-step pipeline a live tick runs for a single
// symbol and returns once its DecisionRecord has been persisted. The
// backtest runner drives replay with this instead of the ticker/cron
// scheduler so live and backtested runs share the exact same decision
// core.
func (o *Orchestrator) TickOnce(ctx context.Context, symbol string) {
	o.tick(ctx, symbol)
	o.updateBreakerEquityAndRegime()
}

// tickAll runs one tick for every configured symbol in parallel,
// §5's "across symbols, ticks are independent" guarantee; per-symbol
// serialization (no two ticks overlap for the same symbol) falls out
// of the ticker/cron firing only after the previous tickAll returned.
func (o *Orchestrator) tickAll(ctx context.Context) {
	select {
	case <-o.stopCh:
		return
	default:
	}

	tickCtx, cancel := context.WithTimeout(ctx, tickDeadline)
	defer cancel()

	var wg sync.WaitGroup
	for _, sym := range o.cfg.Trading.Symbols {
		sym := sym
		wg.Add(1)
		o.wg.Add(1)
		go func() {
			defer wg.Done()
			defer o.wg.Done()
			o.tick(tickCtx, sym)
		}()
	}
	wg.Wait()
	o.updateBreakerEquityAndRegime()
}

// updateBreakerEquityAndRegime feeds the breaker this cycle's
// mark-to-market equity and volatility regime once every symbol's state
// has settled, rather than per-symbol (equity is a process-wide figure,
// not a per-symbol one).
func (o *Orchestrator) updateBreakerEquityAndRegime() {
	equity := o.posLedger.Equity(func(symbol string) float64 {
		if st, ok := o.symbolStates[symbol]; ok {
			return st.lastPrice
		}
		return 0
	})
	o.breaker.RecordEquity(equity)

	volatile := false
	for _, sym := range o.cfg.Trading.Symbols {
		if o.regimeEngine.Snapshot(sym).Regime == regime.RegimeHighVolatility {
			volatile = true
			break
		}
	}
	o.breaker.SetVolatileRegime(volatile)
}

// tick runs the full 9-step pipeline (spec §4.I) for one symbol and
// guarantees exactly one DecisionRecord is persisted, whatever the
// outcome.
func (o *Orchestrator) tick(ctx context.Context, symbol string) {
	st := o.symbolStates[symbol]
	now := time.Now()

	rec := DecisionRecord{Symbol: symbol, Timestamp: now, Decision: strategy.Hold}
	defer func() {
		if err := o.recorder.RecordDecision(ctx, rec); err != nil {
			o.logger.WithError(err).Warn("failed to persist decision record", "symbol", symbol)
		}
	}()

	// Step 1: daily counters and process-wide circuit breaker.
	resetDailyCountersIfNeeded(st, now)
	if canTrade, reason := o.breaker.CanTrade(); !canTrade {
		rec.Reasoning = "circuit breaker: " + reason
		return
	}
	if st.tradesToday >= o.cfg.Risk.MaxDailyTrades {
		rec.Reasoning = "daily trade cap reached"
		return
	}
	if st.dailyPnLPercent <= -o.cfg.Risk.MaxDailyLossPercent {
		rec.Reasoning = "daily loss limit reached"
		return
	}

	// Step 2: market snapshot + indicators + order book.
	candles, err := o.client.GetCandles(ctx, symbol, "1m", 200)
	if err != nil {
		rec.Error = err.Error()
		rec.Reasoning = "market data fetch failed: " + err.Error()
		return
	}
	if len(candles) == 0 {
		rec.Reasoning = "no candle history"
		return
	}
	price := candles[len(candles)-1].Close
	rec.Price = price
	st.lastPrice = price

	book, err := o.client.GetOrderBook(ctx, symbol, 20)
	if err != nil {
		rec.Error = err.Error()
		rec.Reasoning = "order book fetch failed: " + err.Error()
		return
	}

	o.regimeEngine.Update(symbol, price)
	overlay := o.regimeEngine.Overlay(symbol)

	obAnalysis := o.obAnalyzer.Analyze(book, overlay)

	ind, err := indicator.Compute(candles)
	if err != nil {
		rec.Reasoning = "insufficient data: " + err.Error()
		return
	}
	o.publishMarketSnapshot(symbol, price, ind)

	minutesToFunding := 9999.0
	if mp, err := o.client.GetMarkPrice(ctx, symbol); err == nil && !mp.NextFundingTime.IsZero() {
		minutesToFunding = time.Until(mp.NextFundingTime).Minutes()
	}

	// Step 3: preliminary master filter at a nominal confidence.
	filterIn := o.baseFilterInput(st, now, symbol, price, ind, minutesToFunding)
	filterIn.Confidence = 0.6
	if r := o.filterStack.Run(filterIn); !r.Pass {
		rec.Reasoning = "preliminary filter: " + r.Reason
		o.bus.PublishFilterVeto(symbol, "preliminary", r.Reason)
		return
	}

	// Step 4: synthesize and record into the stability ring.
	sig := o.synth.Signal(ctx, strategy.Input{
		Symbol: symbol, Price: price, Indicators: ind, OrderBook: obAnalysis,
		Overlay: overlay, Contrarian: o.cfg.Trading.Contrarian,
	})
	st.pushSignal(sig.Decision)
	o.bus.PublishSignal(symbol, string(o.synth.Mode()), string(sig.Decision), sig.Confidence, sig.Reasoning)
	filterIn.CurrentDirection = string(sig.Decision)

	rec.Decision, rec.Confidence, rec.Reasoning = sig.Decision, sig.Confidence, sig.Reasoning
	if sig.Decision == strategy.Hold {
		return
	}

	// Step 5: reconcile with the ledger.
	side := sideFor(sig.Decision)
	existing, hasPosition := o.posLedger.PositionForSymbol(symbol)
	quickExit := false
	switch {
	case hasPosition && existing.Side == side:
		rec.Reasoning = "duplicate open direction, holding existing position"
		rec.Decision = strategy.Hold
		return
	case hasPosition && existing.Side != side:
		st.pruneReversals(now)
		if len(st.reversalTimestamps) >= o.cfg.Trading.MaxReversalsPerHour {
			rec.Reasoning = fmt.Sprintf("reversal cooldown: already inverted %d time(s) this hour", len(st.reversalTimestamps))
			rec.Decision = strategy.Hold
			return
		}
		if st.tailAll(o.cfg.Trading.QuickExitSignals, sig.Decision) && sig.Confidence >= quickExitConfidenceFloor {
			quickExit = true
		}
	}

	// Step 6: re-run master filter at the actual confidence.
	filterIn.Confidence = sig.Confidence
	r := o.filterStack.Run(filterIn)
	if !r.Pass {
		rec.Reasoning = "filter: " + r.Reason
		rec.Decision = strategy.Hold
		o.bus.PublishFilterVeto(symbol, "final", r.Reason)
		return
	}
	effectiveThreshold := o.effectiveThreshold()
	if maxF(r.ConfidenceFloor, effectiveThreshold) > sig.Confidence {
		rec.Reasoning = fmt.Sprintf("confidence %.2f below effective threshold %.2f", sig.Confidence, effectiveThreshold)
		rec.Decision = strategy.Hold
		return
	}

	// Step 7: stability check.
	if !quickExit && !st.tailAll(o.cfg.Trading.MinConsecutiveSignals, sig.Decision) {
		rec.Reasoning = fmt.Sprintf("signal not stable across last %d ticks", o.cfg.Trading.MinConsecutiveSignals)
		rec.Decision = strategy.Hold
		return
	}

	// Step 8/9: quick-exit or open/invert, then execute.
	quantity := positionQuantity(o.posLedger.CurrentBalance(), o.cfg.Trading.PositionSizePercent, overlay.PositionSizeMultiplier, r.SizeMultiplier, price, o.cfg.Trading.DefaultLeverage)

	switch {
	case quickExit:
		o.closeOnly(ctx, &rec, st, symbol, existing, price)
	case hasPosition: // opposite-direction, stability satisfied, not a quick-exit path taken above -> invert
		o.invertPosition(ctx, &rec, st, symbol, existing, side, quantity, price)
	default:
		o.openNew(ctx, &rec, st, symbol, side, quantity, price, sig)
	}
}

func resetDailyCountersIfNeeded(st *symbolState, now time.Time) {
	day := now.YearDay()
	if st.countersDay != day {
		st.countersDay = day
		st.tradesToday = 0
		st.dailyPnLPercent = 0
	}
}

func (o *Orchestrator) baseFilterInput(st *symbolState, now time.Time, symbol string, price float64, ind *indicator.Set, minutesToFunding float64) filters.Input {
	atrPercent := 0.0
	if price > 0 {
		atrPercent = ind.ATR14 / price
	}
	dir := "HOLD"
	if n := len(st.signalHistory); n > 0 {
		dir = string(st.signalHistory[n-1])
	}
	history := make([]string, len(st.signalHistory))
	for i, d := range st.signalHistory {
		history[i] = string(d)
	}
	return filters.Input{
		Now:               now,
		ATRPercent:        atrPercent,
		ConsecutiveLosses: st.consecutiveLosses,
		TradeStats: filters.TradeStats{
			TradesToday:      st.tradesToday,
			LastTradeAt:      st.lastTradeAt,
			MinIntervalTrade: 0,
			DailyTradeCap:    o.cfg.Risk.MaxDailyTrades,
		},
		VolumeRatio:           ind.Volume.Ratio,
		TrendStrengthAbs:      absF(o.regimeEngine.Snapshot(symbol).TrendStrength),
		ReversalsInTrailingHr: len(st.reversalTimestamps),
		SignalHistory:         history,
		CurrentDirection:      dir,
		MinutesToFunding:      minutesToFunding,
	}
}

// effectiveThreshold applies the mode-dependent bump spec §4.I step 6
// calls for: HYBRID requires more agreement than a bare order-book read.
func (o *Orchestrator) effectiveThreshold() float64 {
	threshold := o.cfg.Risk.MinConfidence
	if o.synth.Mode() == strategy.ModeHybrid {
		threshold += 0.05
	}
	return threshold
}

func (o *Orchestrator) closeOnly(ctx context.Context, rec *DecisionRecord, st *symbolState, symbol string, existing *ledger.Position, price float64) {
	outcome, err := o.gateway.Place(ctx, symbol, existing.Side.Opposite(), existing.Quantity, 1.0, "quick-exit: opposing signal stability")
	if err != nil || outcome == nil || !outcome.Filled {
		rec.Reasoning = "quick-exit order failed to fill"
		return
	}
	pos, err := o.posLedger.ClosePosition(existing.TradeID, outcome.FillPrice)
	if err != nil {
		rec.Error = err.Error()
		return
	}
	o.recordClose(st, pos)
	rec.Executed = true
	rec.TradeID = pos.TradeID
	rec.Reasoning = "quick-exit executed"
}

func (o *Orchestrator) invertPosition(ctx context.Context, rec *DecisionRecord, st *symbolState, symbol string, existing *ledger.Position, newSide exchange.Side, quantity, price float64) {
	outcome, err := o.gateway.Place(ctx, symbol, newSide, quantity, rec.Confidence, rec.Reasoning)
	if err != nil || outcome == nil || !outcome.Filled {
		rec.Reasoning = "reversal order failed to fill"
		return
	}
	reserved := quantity * outcome.FillPrice / float64(maxInt(o.cfg.Trading.DefaultLeverage, 1))
	closed, opened, err := o.posLedger.InvertPosition(symbol, outcome.FillPrice, quantity, o.cfg.Trading.DefaultLeverage, reserved)
	if err != nil {
		rec.Error = err.Error()
		rec.Reasoning = "ledger inversion rejected: " + err.Error()
		return
	}
	o.recordClose(st, closed)
	st.reversalTimestamps = append(st.reversalTimestamps, time.Now())
	st.tradesToday++
	st.lastTradeAt = time.Now()

	o.bus.PublishTradeOpened(symbol, string(opened.Side), opened.EntryPrice, opened.Quantity, opened.Leverage)
	rec.Executed = true
	rec.TradeID = opened.TradeID
}

func (o *Orchestrator) openNew(ctx context.Context, rec *DecisionRecord, st *symbolState, symbol string, side exchange.Side, quantity, price float64, sig strategy.Signal) {
	outcome, err := o.gateway.Place(ctx, symbol, side, quantity, sig.Confidence, sig.Reasoning)
	if err != nil {
		rec.Error = err.Error()
		return
	}
	if !outcome.Filled {
		rec.Reasoning = "order did not fill: " + outcome.Reason
		rec.Decision = strategy.Hold
		return
	}

	reserved := quantity * outcome.FillPrice / float64(maxInt(o.cfg.Trading.DefaultLeverage, 1))
	pos, err := o.posLedger.OpenPosition(symbol, side, quantity, outcome.FillPrice, o.cfg.Trading.DefaultLeverage, reserved)
	if err != nil {
		rec.Error = err.Error()
		rec.Reasoning = "ledger rejected open: " + err.Error()
		rec.Decision = strategy.Hold
		return
	}

	st.tradesToday++
	st.lastTradeAt = time.Now()
	o.bus.PublishTradeOpened(symbol, string(pos.Side), pos.EntryPrice, pos.Quantity, pos.Leverage)
	rec.Executed = true
	rec.TradeID = pos.TradeID
}

// recordClose folds a closed position's realized P&L into the symbol's
// consecutive-loss counter, the process-wide circuit breaker and the
// daily P&L tracker used by step 1's daily-loss veto.
func (o *Orchestrator) recordClose(st *symbolState, pos *ledger.Position) {
	if pos == nil || pos.RealizedPnL == nil {
		return
	}
	pnlPercent := 0.0
	notional := pos.EntryPrice * pos.Quantity
	if notional > 0 {
		pnlPercent = *pos.RealizedPnL / notional * 100
	}
	if pnlPercent < 0 {
		st.consecutiveLosses++
	} else {
		st.consecutiveLosses = 0
	}
	st.dailyPnLPercent += pnlPercent
	o.breaker.RecordTrade(pnlPercent)
	o.bus.PublishTradeClosed(pos.Symbol, pos.EntryPrice, *pos.ExitPrice, pos.Quantity, *pos.RealizedPnL, pnlPercent, "")
}

func sideFor(d strategy.Decision) exchange.Side {
	if d == strategy.Sell {
		return exchange.SideShort
	}
	return exchange.SideLong
}

// positionQuantity sizes a new order off the account balance, the
// configured base position-size percentage, and the regime overlay and
// filter-stack size multipliers layered on top of it.
func positionQuantity(balance, basePercent, overlayMult, filterMult, price float64, leverage int) float64 {
	if price <= 0 {
		return 0
	}
	notional := balance * (basePercent / 100) * overlayMult * filterMult * float64(maxInt(leverage, 1))
	if notional <= 0 {
		return 0
	}
	return notional / price
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
