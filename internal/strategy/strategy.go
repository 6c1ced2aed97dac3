// Package strategy implements the strategy synthesizer (component E):
// it combines the indicator set, order-book analysis and regime overlay
// (and optionally an LLM opinion) into a single (decision, confidence,
// reasoning) tuple with a uniform shape across all selectable modes.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/ksedatech/perp-sentinel/internal/indicator"
	"github.com/ksedatech/perp-sentinel/internal/llm"
	"github.com/ksedatech/perp-sentinel/internal/orderbook"
)

// Decision is the uniform output shape every mode produces.
type Decision string

const (
	Buy  Decision = "BUY"
	Sell Decision = "SELL"
	Hold Decision = "HOLD"
)

// Mode selects which synthesis strategy Signal uses.
type Mode string

const (
	ModeOrderBook    Mode = "ORDER_BOOK"
	ModeLLMOnly      Mode = "LLM_ONLY"
	ModeHybrid       Mode = "HYBRID"
	ModeWaveSurfing  Mode = "WAVE_SURFING"
)

// Signal is the tentative (decision, confidence, reasoning) a mode
// produces, before the filter stack has a chance to veto or rescale it.
type Signal struct {
	Decision   Decision
	Confidence float64
	Reasoning  string
}

func hold(reason string) Signal { return Signal{Decision: Hold, Confidence: 0, Reasoning: reason} }

// Input bundles everything a synthesis mode may read for one symbol/tick.
type Input struct {
	Symbol      string
	Price       float64
	Indicators  *indicator.Set
	OrderBook   *orderbook.Analysis
	Overlay     orderbook.Overlay
	Contrarian  bool

	// AntiSpoofing is consulted only by ModeWaveSurfing.
	AntiSpoofing *SpoofingSignal

	// Account/position/trade-stats context for the LLM prompt (ModeLLMOnly/ModeHybrid).
	AccountSummary string
	PositionState  string
	RecentTrades   string
}

// SpoofingSignal is the output of an anti-spoofing channel classifying
// disappearing quotes into a directional bias, consumed by the
// experimental wave-surfing mode.
type SpoofingSignal struct {
	Direction  Decision
	Confidence float64
	Reasoning  string
}

// Synthesizer runs one of the three-plus-one configured modes.
type Synthesizer struct {
	mode       Mode
	llmAdapter *llm.Adapter
	minConfOB  float64 // base confidence an ORDER_BOOK signal starts from before imbalance/trend adjustments
}

func NewSynthesizer(mode Mode, llmAdapter *llm.Adapter, minConfidenceOrderBook float64) *Synthesizer {
	return &Synthesizer{mode: mode, llmAdapter: llmAdapter, minConfOB: minConfidenceOrderBook}
}

// Mode reports the synthesizer's configured mode.
func (s *Synthesizer) Mode() Mode { return s.mode }

// Signal synthesizes a tentative decision for in, applying the contrarian
// switch last (so BUY/SELL are swapped, HOLD is preserved) regardless of
// which mode produced it.
func (s *Synthesizer) Signal(ctx context.Context, in Input) Signal {
	var sig Signal
	switch s.mode {
	case ModeOrderBook:
		sig = orderBookSignal(in, s.minConfOB)
	case ModeLLMOnly:
		sig = s.llmOnlySignal(ctx, in)
	case ModeHybrid:
		sig = s.hybridSignal(ctx, in)
	case ModeWaveSurfing:
		sig = waveSurfingSignal(in)
	default:
		sig = hold(fmt.Sprintf("unrecognized strategy mode %q", s.mode))
	}

	if in.Contrarian && sig.Decision != Hold {
		sig.Decision = opposite(sig.Decision)
		sig.Reasoning = "CONTRARIAN: " + sig.Reasoning
	}
	return clampTotal(sig)
}

func opposite(d Decision) Decision {
	if d == Buy {
		return Sell
	}
	return Buy
}

// clampTotal enforces decision totality (§8 property 1): decision is
// always one of BUY/SELL/HOLD and confidence always lands in [0, 1].
func clampTotal(sig Signal) Signal {
	switch sig.Decision {
	case Buy, Sell, Hold:
	default:
		sig.Decision = Hold
	}
	if isNaN(sig.Confidence) {
		sig.Confidence = 0
	}
	if sig.Confidence < 0 {
		sig.Confidence = 0
	}
	if sig.Confidence > 1 {
		sig.Confidence = 1
	}
	return sig
}

func isNaN(f float64) bool { return f != f }

// orderBookSignal implements mode 1 (§4.E.1): side from imbalance sign
// after state gating, counter-trend veto against the EMA trend, and a
// trend-alignment bonus multiplier.
func orderBookSignal(in Input, minConfidence float64) Signal {
	ob := in.OrderBook
	if ob == nil || in.Indicators == nil {
		return hold("insufficient data for order-book synthesis")
	}

	if ob.State == orderbook.StateConsolidation {
		return hold("order book in CONSOLIDATION")
	}
	if ob.AbsorptionFlag {
		return hold("absorption detected, no directional edge")
	}

	abs := absF(ob.Imbalance)
	if abs < in.Overlay.WeakImbalance {
		return hold(fmt.Sprintf("imbalance %.3f below weak threshold %.3f", ob.Imbalance, in.Overlay.WeakImbalance))
	}

	decision := Buy
	if ob.Imbalance < 0 {
		decision = Sell
	}

	confidence := minConfidence + (abs-in.Overlay.WeakImbalance)*0.5
	reasoning := fmt.Sprintf("order-book imbalance %.3f (%s), pressure bid=%.2f/ask=%.2f", ob.Imbalance, ob.State, ob.BidPressure, ob.AskPressure)

	trend := in.Indicators.EMATrend()
	aligned := (decision == Buy && trend == indicator.TrendUp) || (decision == Sell && trend == indicator.TrendDown)
	opposed := (decision == Buy && trend == indicator.TrendDown) || (decision == Sell && trend == indicator.TrendUp)

	switch {
	case opposed:
		return hold(fmt.Sprintf("COUNTER-TREND: signal %s opposes EMA trend %s", decision, trend))
	case aligned:
		confidence *= 1.15
		reasoning += "; trend-aligned bonus applied"
	default: // neutral trend
		if confidence < 0.75 {
			return hold(fmt.Sprintf("neutral EMA trend requires confidence >= 0.75, got %.2f", confidence))
		}
		confidence *= 1.05
		reasoning += "; neutral-trend bonus applied"
	}

	if ob.BreakoutFlag {
		confidence *= 1.05
		reasoning += "; breakout confirmed (second drive)"
	}

	return Signal{Decision: decision, Confidence: minF(confidence, 1), Reasoning: reasoning}
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// llmOnlySignal implements mode 2 (§4.E.2): delegate entirely to the LLM
// adapter with a structured prompt.
func (s *Synthesizer) llmOnlySignal(ctx context.Context, in Input) Signal {
	if s.llmAdapter == nil {
		return hold("LLM_ONLY mode configured without an LLM adapter")
	}
	resp, err := s.llmAdapter.Complete(ctx, systemPrompt(), userPrompt(in))
	if err != nil {
		return hold(fmt.Sprintf("LLM adapter error: %v", err))
	}
	return Signal{Decision: Decision(resp.Decision), Confidence: resp.Confidence, Reasoning: resp.Reasoning}
}

// hybridSignal implements mode 3 (§4.E.3): order-book signal first,
// short-circuiting on HOLD; otherwise the LLM confirms or rejects.
func (s *Synthesizer) hybridSignal(ctx context.Context, in Input) Signal {
	obSignal := orderBookSignal(in, s.minConfOB)
	if obSignal.Decision == Hold {
		return obSignal
	}
	if s.llmAdapter == nil {
		return hold("HYBRID mode configured without an LLM adapter")
	}

	resp, err := s.llmAdapter.Complete(ctx, systemPrompt(), userPrompt(in))
	if err != nil {
		return hold(fmt.Sprintf("LLM confirmation failed: %v", err))
	}

	if Decision(resp.Decision) != obSignal.Decision {
		return hold(fmt.Sprintf("HYBRID disagreement: order-book=%s llm=%s", obSignal.Decision, resp.Decision))
	}

	return Signal{
		Decision:   obSignal.Decision,
		Confidence: 0.6*obSignal.Confidence + 0.4*resp.Confidence,
		Reasoning:  fmt.Sprintf("%s; LLM confirms: %s", obSignal.Reasoning, resp.Reasoning),
	}
}

// waveSurfingSignal implements the experimental fourth mode (§4.E, final
// paragraph): it shares the uniform output shape but reads its bias from
// an anti-spoofing channel instead of the order book directly.
func waveSurfingSignal(in Input) Signal {
	if in.AntiSpoofing == nil {
		return hold("wave-surfing mode requires an anti-spoofing signal")
	}
	sp := in.AntiSpoofing
	if sp.Direction == Hold {
		return hold("anti-spoofing channel reports no directional bias")
	}
	return Signal{Decision: sp.Direction, Confidence: sp.Confidence, Reasoning: "wave-surfing: " + sp.Reasoning}
}

func systemPrompt() string {
	return "You are a perpetual-futures trading signal generator. Respond with a single JSON object " +
		`{"decision":"BUY"|"SELL"|"HOLD","confidence":0.0-1.0,"reasoning":"...","suggested_stop_loss":optional,"suggested_take_profit":optional}. ` +
		"No prose, no markdown fence is required but tolerated."
}

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\nPrice: %.6f\n", in.Symbol, in.Price)
	if in.Indicators != nil {
		fmt.Fprintf(&b, "RSI 7/14/21: %.2f/%.2f/%.2f EMA 5/13/12/26/20/50: %.4f/%.4f/%.4f/%.4f/%.4f/%.4f MACD(12,26,9) hist: %.6f volume ratio: %.2fx ADX14: %.2f\n",
			in.Indicators.RSI7, in.Indicators.RSI14, in.Indicators.RSI21,
			in.Indicators.EMA5, in.Indicators.EMA13, in.Indicators.EMA12, in.Indicators.EMA26, in.Indicators.EMA20, in.Indicators.EMA50,
			in.Indicators.MACDSlow.Histogram, in.Indicators.Volume.Ratio, in.Indicators.ADX14)
	}
	if in.OrderBook != nil {
		fmt.Fprintf(&b, "Order book: imbalance=%.3f state=%s pressure(bid/ask)=%.2f/%.2f aggression=%.2f\n",
			in.OrderBook.Imbalance, in.OrderBook.State, in.OrderBook.BidPressure, in.OrderBook.AskPressure, in.OrderBook.Aggression)
	}
	if in.AccountSummary != "" {
		fmt.Fprintf(&b, "Account: %s\n", in.AccountSummary)
	}
	if in.PositionState != "" {
		fmt.Fprintf(&b, "Position: %s\n", in.PositionState)
	}
	if in.RecentTrades != "" {
		fmt.Fprintf(&b, "Recent trades: %s\n", in.RecentTrades)
	}
	return b.String()
}
