package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/config"
)

func TestNewService_RejectsDisabledConfig(t *testing.T) {
	_, err := NewService(config.RedisConfig{Enabled: false})
	require.Error(t, err)
}

func TestRegimeOverlayKey_IncludesSymbol(t *testing.T) {
	assert.Equal(t, "regime:BTCUSDT:overlay", RegimeOverlayKey("BTCUSDT"))
}

func TestMarketSnapshotKey_IncludesSymbolAndInterval(t *testing.T) {
	assert.Equal(t, "market:ETHUSDT:1m:latest", MarketSnapshotKey("ETHUSDT", "1m"))
}

func TestGetStats_ReportsHealthAndAddress(t *testing.T) {
	svc := &Service{healthy: true, failureCount: 2, cfg: config.RedisConfig{Address: "localhost:6379"}}
	stats := svc.GetStats()
	assert.True(t, stats.Healthy)
	assert.Equal(t, 2, stats.FailureCount)
	assert.Equal(t, "localhost:6379", stats.Address)
}

func TestIsHealthy_DefaultsFalseForZeroValueService(t *testing.T) {
	svc := &Service{}
	assert.False(t, svc.IsHealthy())
}
