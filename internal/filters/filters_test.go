package filters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// londonNoon is a fixed weekday timestamp inside the London session
// bucket, away from any funding boundary, used across the composition tests.
func londonNoon() time.Time {
	return time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC) // Wednesday, 09:00 UTC
}

func baseInput() Input {
	return Input{
		Now:               londonNoon(),
		ATRPercent:        0.01,
		Confidence:        0.80,
		ConsecutiveLosses: 0,
		VolumeRatio:       1.0,
		TrendStrengthAbs:  0.2,
		SignalHistory:     []string{"BUY"},
		CurrentDirection:  "BUY",
		MinutesToFunding:  120,
	}
}

func TestFilterComposition_LowVolatilityVetoesThenPasses(t *testing.T) {
	s := NewStack(NewDefaultConfig())

	in := baseInput()
	in.ATRPercent = 0.001 // below the 0.005% floor
	result := s.Run(in)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Reason, "low volatility")

	in.ATRPercent = 0.01 // above the floor
	result = s.Run(in)
	assert.True(t, result.Pass)
}

func TestFilterComposition_S3_FundingWindowVeto(t *testing.T) {
	s := NewStack(NewDefaultConfig())

	in := baseInput()
	in.MinutesToFunding = 7 // inside the 10-minute pre-funding window
	result := s.Run(in)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Reason, "funding")
}

func TestFilterComposition_ExtremeVolumeVetoes(t *testing.T) {
	s := NewStack(NewDefaultConfig())

	in := baseInput()
	in.VolumeRatio = 6.0
	result := s.Run(in)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Reason, "volume anomaly")
}

func TestFilterComposition_StrongVolumeHalvesSize(t *testing.T) {
	s := NewStack(NewDefaultConfig())

	in := baseInput()
	in.VolumeRatio = 3.5
	in.Confidence = 0.85 // isolate the volume halving from the sizing bucket
	result := s.Run(in)

	assert.True(t, result.Pass)
	assert.LessOrEqual(t, result.SizeMultiplier, 0.5*1.3+1e-9)
}

func TestFilterComposition_CooldownRaisesConfidenceFloor(t *testing.T) {
	s := NewStack(NewDefaultConfig())

	in := baseInput()
	in.ConsecutiveLosses = 1
	in.TradeStats.LastTradeAt = in.Now.Add(-20 * time.Minute) // outside the 5m window
	result := s.Run(in)

	assert.True(t, result.Pass)
	assert.Equal(t, 0.90, result.ConfidenceFloor)
}

func TestFilterComposition_SignalInstabilityVetoes(t *testing.T) {
	s := NewStack(NewDefaultConfig())

	in := baseInput()
	in.SignalHistory = []string{"SELL"}
	result := s.Run(in)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Reason, "instability")
}

func TestFilterComposition_ReversalCapVetoes(t *testing.T) {
	s := NewStack(NewDefaultConfig())

	in := baseInput()
	in.ReversalsInTrailingHr = 4 // exceeds the default cap of 3
	result := s.Run(in)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Reason, "reversals/hour")
}

func TestFilterComposition_SizeIsProductOfMultipliers(t *testing.T) {
	s := NewStack(NewDefaultConfig())

	in := baseInput()
	in.Confidence = 0.90 // 1.0x sizing bucket
	result := s.Run(in)

	assert.True(t, result.Pass)
	assert.Greater(t, result.SizeMultiplier, 0.0)
	assert.LessOrEqual(t, result.SizeMultiplier, 1.0)
}
