// Command agent is the perpetual-futures trading agent's entrypoint: it
// loads configuration, wires every component (exchange connectivity,
// the decision pipeline, persistence, the operator API) and runs the
// tick loop until told to stop.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/api"
	"github.com/ksedatech/perp-sentinel/internal/backtest"
	"github.com/ksedatech/perp-sentinel/internal/cache"
	"github.com/ksedatech/perp-sentinel/internal/circuit"
	"github.com/ksedatech/perp-sentinel/internal/database"
	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/exchange"
	"github.com/ksedatech/perp-sentinel/internal/execution"
	"github.com/ksedatech/perp-sentinel/internal/filters"
	"github.com/ksedatech/perp-sentinel/internal/ledger"
	"github.com/ksedatech/perp-sentinel/internal/llm"
	"github.com/ksedatech/perp-sentinel/internal/logging"
	"github.com/ksedatech/perp-sentinel/internal/orchestrator"
	"github.com/ksedatech/perp-sentinel/internal/orderbook"
	"github.com/ksedatech/perp-sentinel/internal/regime"
	"github.com/ksedatech/perp-sentinel/internal/secrets"
	"github.com/ksedatech/perp-sentinel/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	logger.Info("event bus initialized")

	var secretResolver *secrets.Resolver
	if cfg.Vault.Enabled {
		secretResolver, err = secrets.New(cfg.Vault)
		if err != nil {
			logger.WithError(err).Warn("vault resolver unavailable, falling back to env-sourced credentials")
		} else {
			logger.Info("vault secret resolver initialized", "address", cfg.Vault.Address)
		}
	}
	if secretResolver == nil {
		secretResolver, _ = secrets.New(config.VaultConfig{Enabled: false})
	}

	exchangeCreds, err := secretResolver.ResolveExchangeCredentials(ctx, cfg.Exchange.APIKey, cfg.Exchange.SecretKey)
	if err != nil {
		logger.WithError(err).Warn("exchange credential resolution failed, continuing with whatever env values are set")
	} else {
		cfg.Exchange.APIKey = exchangeCreds.APIKey
		cfg.Exchange.SecretKey = exchangeCreds.SecretKey
	}

	// dryRun/mock mode resolves to the in-memory client here rather than a
	// runtime branch inside execution.Gateway: the gateway never needs to
	// know it is being paper-traded.
	var client exchange.Client
	if cfg.Trading.DryRun || cfg.Exchange.MockMode {
		client = exchange.NewMockClient(cfg.Trading.StartingBalance, nil)
		logger.Info("exchange client initialized in dry-run/mock mode")
	} else {
		client = exchange.NewRESTClient(cfg.Exchange)
		logger.Info("exchange client initialized against live venue", "base_url", cfg.Exchange.BaseURL, "testnet", cfg.Exchange.TestNet)
	}

	var db *database.DB
	var recorder *database.Recorder
	var repo *database.Repository
	if cfg.Database.Enabled {
		db, err = database.New(ctx, cfg.Database.DSN)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to database")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("failed to run database migrations")
		}
		recorder = database.NewRecorder(db)
		repo = database.NewRepository(db)
		logger.Info("database connected and migrated")
	} else {
		logger.Info("database disabled, decisions and trades will not be persisted")
	}

	var cacheSvc *cache.Service
	if cfg.Redis.Enabled {
		cacheSvc, err = cache.NewService(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("redis cache unavailable, continuing without it")
			cacheSvc = nil
		} else {
			defer cacheSvc.Close()
			logger.Info("redis cache service initialized", "address", cfg.Redis.Address, "healthy", cacheSvc.IsHealthy())
		}
	}

	breaker := circuit.New(cfg.CircuitBreaker, bus)
	posLedger := ledger.NewLedger(cfg.Trading.StartingBalance, cfg.Trading.MaxOpenPositions)
	regimeEngine := regime.NewEngine(regime.NewDefaultThresholds())
	if cacheSvc != nil {
		regimeEngine.SetCache(cacheSvc)
	}
	obAnalyzer := orderbook.NewAnalyzer(orderbook.NewDefaultConfig())
	gateway := execution.NewGateway(client, bus)

	var llmAdapter *llm.Adapter
	if cfg.LLM.Enabled {
		llmAPIKey := cfg.LLM.APIKey
		if key, err := secretResolver.ResolveLLMAPIKey(ctx, cfg.LLM.APIKey); err != nil {
			logger.WithError(err).Warn("llm api key resolution failed, using env value")
		} else {
			llmAPIKey = key
		}
		llmCfg := cfg.LLM
		llmCfg.APIKey = llmAPIKey
		providerClient := llm.NewProviderClient(providerFor(cfg.LLM.Provider), llmCfg)
		llmAdapter = llm.NewAdapter(providerClient, providerFor(cfg.LLM.Provider), llmCfg)
		if cacheSvc != nil {
			llmAdapter.SetRateLimiter(&llmRateLimiter{cache: cacheSvc, perMinute: cfg.LLM.RateLimitPerMin})
		}
		logger.Info("llm adapter initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	} else {
		logger.Info("llm adapter disabled, synthesis falls back to order-book-only signals")
	}

	synth := strategy.NewSynthesizer(strategy.Mode(cfg.Trading.Mode), llmAdapter, cfg.Risk.MinConfidence)
	filterStack := filters.NewStack(filters.NewDefaultConfig())

	var rec orchestrator.Recorder
	if recorder != nil {
		rec = recorder
	}
	orch := orchestrator.New(cfg, client, bus, breaker, posLedger, regimeEngine, obAnalyzer, synth, filterStack, gateway, rec)
	if cacheSvc != nil {
		orch.SetCache(cacheSvc)
	}

	backtestRunner := backtest.NewRunner(cfg, client, bus)

	server := api.New(cfg.Server, bus, posLedger, breaker, client, gateway, recorder, repo, backtestRunner)
	if cacheSvc != nil {
		server.SetCache(cacheSvc)
	}

	go func() {
		if err := server.Run(ctx); err != nil {
			logger.WithError(err).Error("operator api server stopped with error")
		}
	}()
	logger.Info("operator api listening", "host", cfg.Server.Host, "port", cfg.Server.Port)

	logger.Info("starting trade loop", "symbols", cfg.Trading.Symbols, "mode", cfg.Trading.Mode, "dry_run", cfg.Trading.DryRun)
	if err := orch.Run(ctx); err != nil {
		logger.WithError(err).Error("trade loop exited with error")
	}

	logger.Info("shutdown complete")
}

func providerFor(name string) llm.Provider {
	switch name {
	case "openai":
		return llm.ProviderOpenAI
	case "deepseek":
		return llm.ProviderDeepSeek
	default:
		return llm.ProviderAnthropic
	}
}

// llmRateLimiter adapts cache.Service's per-minute counter to
// llm.RateLimiter, keeping the llm package ignorant of Redis.
type llmRateLimiter struct {
	cache     *cache.Service
	perMinute int
}

func (l *llmRateLimiter) Allow(ctx context.Context) (bool, error) {
	if l.perMinute <= 0 {
		return true, nil
	}
	count, err := l.cache.IncrLLMCallCount(ctx)
	if err != nil {
		return true, err
	}
	return count <= int64(l.perMinute), nil
}
