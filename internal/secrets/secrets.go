// Package secrets resolves exchange and LLM credentials from HashiCorp
// Vault when configured, falling back to the values already loaded from
// the environment. It caches every resolved secret in memory so a Vault
// outage after boot never interrupts a running agent.
package secrets

import (
	"context"
	"fmt"
	"sync"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/ksedatech/perp-sentinel/config"
)

// ExchangeCredentials is the API key pair the execution gateway's REST
// client authenticates with.
type ExchangeCredentials struct {
	APIKey    string
	SecretKey string
}

// Resolver resolves named credentials, preferring Vault and caching
// whatever it last resolved so lookups after the first are instant and
// resilient to a transient Vault outage.
type Resolver struct {
	client *vaultapi.Client
	cfg    config.VaultConfig

	mu    sync.RWMutex
	cache map[string]map[string]interface{}
}

// New builds a Resolver. When cfg.Enabled is false the returned Resolver
// only ever serves the fallback values callers pass to its Resolve*
// methods, matching the teacher's disabled-vault dev/test mode.
func New(cfg config.VaultConfig) (*Resolver, error) {
	r := &Resolver{cfg: cfg, cache: make(map[string]map[string]interface{})}
	if !cfg.Enabled {
		return r, nil
	}

	vc := vaultapi.DefaultConfig()
	vc.Address = cfg.Address
	client, err := vaultapi.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	r.client = client
	return r, nil
}

// ResolveExchangeCredentials returns the exchange API key pair from
// Vault's KV path, falling back to envAPIKey/envSecretKey when Vault is
// disabled or the path has no data.
func (r *Resolver) ResolveExchangeCredentials(ctx context.Context, envAPIKey, envSecretKey string) (ExchangeCredentials, error) {
	data, err := r.read(ctx, "exchange")
	if err != nil || data == nil {
		return ExchangeCredentials{APIKey: envAPIKey, SecretKey: envSecretKey}, nil
	}
	apiKey, _ := data["api_key"].(string)
	secretKey, _ := data["secret_key"].(string)
	if apiKey == "" {
		apiKey = envAPIKey
	}
	if secretKey == "" {
		secretKey = envSecretKey
	}
	return ExchangeCredentials{APIKey: apiKey, SecretKey: secretKey}, nil
}

// ResolveLLMAPIKey returns the LLM provider's API key from Vault, falling
// back to envKey.
func (r *Resolver) ResolveLLMAPIKey(ctx context.Context, envKey string) (string, error) {
	data, err := r.read(ctx, "llm")
	if err != nil || data == nil {
		return envKey, nil
	}
	key, _ := data["api_key"].(string)
	if key == "" {
		return envKey, nil
	}
	return key, nil
}

// read fetches secretName from cache, then Vault, caching whatever it
// finds. A disabled Resolver returns (nil, nil) and a Vault read error is
// returned; the Resolve* callers treat both as "no data" and fall back to
// their env-sourced default rather than failing the whole boot sequence
// over a missing secret.
func (r *Resolver) read(ctx context.Context, secretName string) (map[string]interface{}, error) {
	r.mu.RLock()
	if cached, ok := r.cache[secretName]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	if !r.cfg.Enabled || r.client == nil {
		return nil, nil
	}

	path := fmt.Sprintf("%s/data/%s/%s", r.cfg.MountPath, r.cfg.SecretPath, secretName)
	secret, err := r.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", secretName, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, nil
	}

	r.mu.Lock()
	r.cache[secretName] = data
	r.mu.Unlock()
	return data, nil
}

// Invalidate clears the cached value for secretName so the next Resolve*
// call re-reads Vault, used after a manual credential rotation.
func (r *Resolver) Invalidate(secretName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, secretName)
}
