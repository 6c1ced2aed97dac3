// Package config loads agent configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ExchangeConfig holds venue connectivity settings.
type ExchangeConfig struct {
	BaseURL    string
	TestNet    bool
	MockMode   bool
	APIKey     string
	SecretKey  string
	RecvWindow time.Duration
}

// TradingConfig holds the symbol universe and cadence knobs.
type TradingConfig struct {
	Symbols               []string
	TickInterval          time.Duration
	Cron                  string // optional robfig/cron expression; empty means use TickInterval
	DryRun                bool
	Mode                  string // ORDER_BOOK, LLM_ONLY, HYBRID, WAVE_SURFING
	Contrarian            bool
	StartingBalance       float64
	PositionSizePercent   float64
	MaxOpenPositions      int
	MaxLeverage           int
	DefaultLeverage       int
	MarginType            string // CROSSED or ISOLATED
	MaxReversalsPerHour   int
	MinConsecutiveSignals int // MIN_CONSECUTIVE_SIGNALS: same-direction signals the stability gate requires
	QuickExitSignals      int // QUICK_EXIT_SIGNALS: trailing opposite-direction signals that trigger a quick exit
}

// RiskConfig holds ledger and filter-stack thresholds.
type RiskConfig struct {
	MaxRiskPerTradePercent float64
	MaxDailyLossPercent    float64
	MaxDailyTrades         int
	MaxPositionSizePercent float64
	MinConfidence          float64
	RequireConfluence      int
	CooldownAfterLoss      time.Duration
	ReversalCooldown       time.Duration
	MaxCorrelatedExposure  float64
	VolatilityFloor        float64
	VolatilityCeiling      float64
	VolumeAnomalySigma     float64
}

// CircuitBreakerConfig holds process-wide kill-switch thresholds.
type CircuitBreakerConfig struct {
	Enabled              bool
	MaxLossPerHourPct    float64
	MaxConsecutiveLosses int
	CooldownMinutes      int
	MaxDailyLossPct      float64
	MaxTradesPerMinute   int
}

// LLMConfig holds the LLM adapter's provider and retry settings.
type LLMConfig struct {
	Enabled         bool
	Provider        string // claude, openai, deepseek
	Model           string
	APIKey          string
	MaxRetries      int
	RequestTimeout  time.Duration
	RateLimitPerMin int
}

// ServerConfig holds the operator HTTP surface settings.
type ServerConfig struct {
	Port              int
	Host              string
	AllowedOrigins    string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	JWTSecret         string
	AuthEnabled       bool
	AdminPasswordHash string
	TokenTTL          time.Duration
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Enabled bool
	DSN     string
}

// RedisConfig holds cache/rate-limiter connection settings.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// VaultConfig holds HashiCorp Vault secret-resolution settings.
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level       string
	Output      string // stdout, stderr, or a file path
	JSONFormat  bool
	IncludeFile bool
}

// Config is the aggregate root for agent configuration.
type Config struct {
	Exchange       ExchangeConfig
	Trading        TradingConfig
	Risk           RiskConfig
	CircuitBreaker CircuitBreakerConfig
	LLM            LLMConfig
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Vault          VaultConfig
	Logging        LoggingConfig
}

// Load builds a Config from environment variables, applying defaults for
// anything unset. A .env file in the working directory is loaded first, if
// present; real environment variables always take precedence.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		Exchange: ExchangeConfig{
			BaseURL:    getEnvOrDefault("EXCHANGE_BASE_URL", "https://fapi.binance.com"),
			TestNet:    getEnvBool("EXCHANGE_TESTNET", false),
			MockMode:   getEnvBool("EXCHANGE_MOCK_MODE", false),
			APIKey:     os.Getenv("EXCHANGE_API_KEY"),
			SecretKey:  os.Getenv("EXCHANGE_SECRET_KEY"),
			RecvWindow: getEnvDuration("EXCHANGE_RECV_WINDOW", 5*time.Second),
		},
		Trading: TradingConfig{
			Symbols:             getEnvStringList("TRADING_SYMBOLS", []string{"BTCUSDT", "ETHUSDT"}),
			TickInterval:        getEnvDuration("TRADING_TICK_INTERVAL", 15*time.Second),
			Cron:                getEnvOrDefault("TRADING_CRON", ""),
			DryRun:              getEnvBool("TRADING_DRY_RUN", true),
			Mode:                getEnvOrDefault("TRADING_MODE", "HYBRID"),
			Contrarian:          getEnvBool("TRADING_CONTRARIAN", false),
			StartingBalance:     getEnvFloat("TRADING_STARTING_BALANCE", 10000),
			PositionSizePercent: getEnvFloat("TRADING_POSITION_SIZE_PCT", 5.0),
			MaxOpenPositions:    getEnvInt("TRADING_MAX_OPEN_POSITIONS", 5),
			MaxLeverage:         getEnvInt("TRADING_MAX_LEVERAGE", 20),
			DefaultLeverage:     getEnvInt("TRADING_DEFAULT_LEVERAGE", 5),
			MarginType:          getEnvOrDefault("TRADING_MARGIN_TYPE", "CROSSED"),
			MaxReversalsPerHour:   getEnvInt("TRADING_MAX_REVERSALS_PER_HOUR", 3),
			MinConsecutiveSignals: getEnvInt("TRADING_MIN_CONSECUTIVE_SIGNALS", 3),
			QuickExitSignals:      getEnvInt("TRADING_QUICK_EXIT_SIGNALS", 3),
		},
		Risk: RiskConfig{
			MaxRiskPerTradePercent: getEnvFloat("RISK_MAX_PER_TRADE_PCT", 1.0),
			MaxDailyLossPercent:    getEnvFloat("RISK_MAX_DAILY_LOSS_PCT", 3.0),
			MaxDailyTrades:         getEnvInt("RISK_MAX_DAILY_TRADES", 20),
			MaxPositionSizePercent: getEnvFloat("RISK_MAX_POSITION_SIZE_PCT", 10.0),
			MinConfidence:          getEnvFloat("RISK_MIN_CONFIDENCE", 0.6),
			RequireConfluence:      getEnvInt("RISK_REQUIRE_CONFLUENCE", 2),
			CooldownAfterLoss:      getEnvDuration("RISK_COOLDOWN_AFTER_LOSS", 5*time.Minute),
			ReversalCooldown:       getEnvDuration("RISK_REVERSAL_COOLDOWN", 3*time.Minute),
			MaxCorrelatedExposure:  getEnvFloat("RISK_MAX_CORRELATED_EXPOSURE_PCT", 15.0),
			VolatilityFloor:        getEnvFloat("RISK_VOLATILITY_FLOOR", 0.05),
			VolatilityCeiling:      getEnvFloat("RISK_VOLATILITY_CEILING", 5.0),
			VolumeAnomalySigma:     getEnvFloat("RISK_VOLUME_ANOMALY_SIGMA", 3.0),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:              getEnvBool("CIRCUIT_BREAKER_ENABLED", true),
			MaxLossPerHourPct:    getEnvFloat("CIRCUIT_MAX_LOSS_PER_HOUR_PCT", 3.0),
			MaxConsecutiveLosses: getEnvInt("CIRCUIT_MAX_CONSECUTIVE_LOSSES", 5),
			CooldownMinutes:      getEnvInt("CIRCUIT_COOLDOWN_MINUTES", 30),
			MaxDailyLossPct:      getEnvFloat("CIRCUIT_MAX_DAILY_LOSS_PCT", 5.0),
			MaxTradesPerMinute:   getEnvInt("CIRCUIT_MAX_TRADES_PER_MINUTE", 6),
		},
		LLM: LLMConfig{
			Enabled:         getEnvBool("LLM_ENABLED", true),
			Provider:        getEnvOrDefault("LLM_PROVIDER", "claude"),
			Model:           getEnvOrDefault("LLM_MODEL", "claude-3-haiku-20240307"),
			APIKey:          os.Getenv("LLM_API_KEY"),
			MaxRetries:      getEnvInt("LLM_MAX_RETRIES", 2),
			RequestTimeout:  getEnvDuration("LLM_REQUEST_TIMEOUT", 20*time.Second),
			RateLimitPerMin: getEnvInt("LLM_RATE_LIMIT_PER_MIN", 20),
		},
		Server: ServerConfig{
			Port:              getEnvInt("SERVER_PORT", 8080),
			Host:              getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins:    getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			JWTSecret:         getEnvOrDefault("SERVER_JWT_SECRET", ""),
			AuthEnabled:       getEnvBool("SERVER_AUTH_ENABLED", false),
			AdminPasswordHash: getEnvOrDefault("SERVER_ADMIN_PASSWORD_HASH", ""),
			TokenTTL:          getEnvDuration("SERVER_TOKEN_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			Enabled: getEnvBool("DATABASE_ENABLED", false),
			DSN:     getEnvOrDefault("DATABASE_DSN", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Address:  getEnvOrDefault("REDIS_ADDRESS", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Vault: VaultConfig{
			Enabled:    getEnvBool("VAULT_ENABLED", false),
			Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
			Token:      os.Getenv("VAULT_TOKEN"),
			MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
			SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "perp-sentinel/api-keys"),
		},
		Logging: LoggingConfig{
			Level:       getEnvOrDefault("LOG_LEVEL", "INFO"),
			Output:      getEnvOrDefault("LOG_OUTPUT", "stdout"),
			JSONFormat:  getEnvBool("LOG_JSON", true),
			IncludeFile: getEnvBool("LOG_INCLUDE_FILE", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("config: at least one TRADING_SYMBOLS entry is required")
	}
	if c.Server.AuthEnabled && c.Server.JWTSecret == "" {
		return fmt.Errorf("config: SERVER_JWT_SECRET is required when SERVER_AUTH_ENABLED=true")
	}
	if c.Server.AuthEnabled && c.Server.AdminPasswordHash == "" {
		return fmt.Errorf("config: SERVER_ADMIN_PASSWORD_HASH is required when SERVER_AUTH_ENABLED=true")
	}
	if c.Trading.MaxLeverage < c.Trading.DefaultLeverage {
		return fmt.Errorf("config: TRADING_MAX_LEVERAGE (%d) must be >= TRADING_DEFAULT_LEVERAGE (%d)", c.Trading.MaxLeverage, c.Trading.DefaultLeverage)
	}
	switch c.Trading.Mode {
	case "ORDER_BOOK", "LLM_ONLY", "HYBRID", "WAVE_SURFING":
	default:
		return fmt.Errorf("config: unknown TRADING_MODE %q (want ORDER_BOOK, LLM_ONLY, HYBRID or WAVE_SURFING)", c.Trading.Mode)
	}
	if !c.Trading.DryRun && !c.Exchange.MockMode && !c.Vault.Enabled && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("config: EXCHANGE_API_KEY and EXCHANGE_SECRET_KEY are required when TRADING_DRY_RUN=false")
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvStringList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
