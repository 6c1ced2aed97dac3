package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksedatech/perp-sentinel/config"
)

func TestNew_DisabledVaultNeverBuildsAClient(t *testing.T) {
	r, err := New(config.VaultConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, r.client)
}

func TestResolveExchangeCredentials_FallsBackToEnvWhenVaultDisabled(t *testing.T) {
	r, err := New(config.VaultConfig{Enabled: false})
	require.NoError(t, err)

	creds, err := r.ResolveExchangeCredentials(context.Background(), "env-key", "env-secret")
	require.NoError(t, err)
	assert.Equal(t, "env-key", creds.APIKey)
	assert.Equal(t, "env-secret", creds.SecretKey)
}

func TestResolveLLMAPIKey_FallsBackToEnvWhenVaultDisabled(t *testing.T) {
	r, err := New(config.VaultConfig{Enabled: false})
	require.NoError(t, err)

	key, err := r.ResolveLLMAPIKey(context.Background(), "env-llm-key")
	require.NoError(t, err)
	assert.Equal(t, "env-llm-key", key)
}

func TestInvalidate_DropsCachedEntry(t *testing.T) {
	r, err := New(config.VaultConfig{Enabled: false})
	require.NoError(t, err)

	r.mu.Lock()
	r.cache["exchange"] = map[string]interface{}{"api_key": "cached"}
	r.mu.Unlock()

	r.Invalidate("exchange")

	r.mu.RLock()
	_, ok := r.cache["exchange"]
	r.mu.RUnlock()
	assert.False(t, ok)
}
