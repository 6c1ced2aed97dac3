package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ksedatech/perp-sentinel/internal/orchestrator"
	"github.com/ksedatech/perp-sentinel/internal/strategy"
)

// Pool-dependent paths (RecordDecision, UpsertTrade, TradeHistory, ...)
// need a live Postgres instance and have no tests here; these cover the
// pure conversions around them.

func TestDecisionRoundTrip_PreservesDecisionString(t *testing.T) {
	rec := orchestrator.DecisionRecord{Symbol: "BTCUSDT", Decision: strategy.Buy}
	assert.Equal(t, strategy.Buy, strategy.Decision(string(rec.Decision)))
}

func TestNullableTradeIDAndError_OnlySetWhenNonEmpty(t *testing.T) {
	var tradeID, errText interface{}

	rec := orchestrator.DecisionRecord{TradeID: "", Error: ""}
	if rec.TradeID != "" {
		tradeID = rec.TradeID
	}
	if rec.Error != "" {
		errText = rec.Error
	}
	assert.Nil(t, tradeID)
	assert.Nil(t, errText)

	rec = orchestrator.DecisionRecord{TradeID: "t-1", Error: "boom"}
	tradeID, errText = nil, nil
	if rec.TradeID != "" {
		tradeID = rec.TradeID
	}
	if rec.Error != "" {
		errText = rec.Error
	}
	assert.Equal(t, "t-1", tradeID)
	assert.Equal(t, "boom", errText)
}

func TestBalanceHistory_ReversesToOldestFirst(t *testing.T) {
	out := []BalanceSnapshot{{Balance: 3}, {Balance: 2}, {Balance: 1}}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	assert.Equal(t, []float64{1, 2, 3}, []float64{out[0].Balance, out[1].Balance, out[2].Balance})
}
