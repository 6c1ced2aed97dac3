// Package cache provides Redis-backed caching for the regime engine's
// parameter overlays, the LLM adapter's per-minute rate limiter, and
// short-TTL market-data snapshots, with graceful degradation when Redis
// is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/logging"
)

// Service provides Redis-based caching with graceful degradation. When
// Redis is unavailable, operations return errors that callers handle by
// falling back to recomputation (e.g. the regime engine recomputes
// parameters directly instead of reading the cached overlay).
type Service struct {
	client *redis.Client
	cfg    config.RedisConfig
	log    *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// Key prefixes for the cache domains this agent uses.
const (
	PrefixRegimeOverlay  = "regime:%s:overlay"   // symbol -> cached RegimeParameters JSON
	PrefixLLMRateLimit   = "llm:ratelimit:%s"    // minute bucket -> call count
	PrefixMarketSnapshot = "market:%s:%s:latest" // symbol, interval -> latest candle JSON
)

// DefaultRegimeOverlayTTL matches the regime engine's recompute cadence.
const DefaultRegimeOverlayTTL = 60 * time.Second

// DefaultMarketSnapshotTTL keeps short-lived order-book/candle snapshots
// warm between orchestrator ticks without risking stale decisions.
const DefaultMarketSnapshotTTL = 5 * time.Second

// NewService creates a Service and verifies connectivity. A failed ping
// is not a fatal error: the service starts in degraded mode and callers
// fall back to computing values directly until Redis recovers.
func NewService(cfg config.RedisConfig) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("cache: redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	log := logging.WithComponent("cache")
	svc := &Service{
		client:        client,
		cfg:           cfg,
		log:           log,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("initial redis connection failed, starting degraded", "error", err)
		return svc, nil
	}

	svc.healthy = true
	svc.lastCheck = time.Now()
	log.Info("redis connected", "address", cfg.Address)
	return svc, nil
}

// IsHealthy reports whether Redis is currently considered available.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= s.maxFailures && s.healthy {
		s.log.Warn("circuit open: redis marked unhealthy", "failures", s.failureCount)
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		s.log.Info("circuit closed: redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

func (s *Service) checkHealth() {
	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()
	if !shouldCheck {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(ctx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// SetJSON marshals and stores value under key with the given TTL.
func (s *Service) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.checkHealth()
	if !s.IsHealthy() {
		return fmt.Errorf("cache: redis unavailable (circuit open)")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("cache: set: %w", err)
	}
	s.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals the value under key into dest. It
// returns redis.Nil (unwrapped check via errors.Is) on a cache miss.
func (s *Service) GetJSON(ctx context.Context, key string, dest interface{}) error {
	s.checkHealth()
	if !s.IsHealthy() {
		return fmt.Errorf("cache: redis unavailable (circuit open)")
	}
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return err
		}
		s.recordFailure()
		return fmt.Errorf("cache: get: %w", err)
	}
	s.recordSuccess()
	return json.Unmarshal([]byte(data), dest)
}

// Delete removes a key.
func (s *Service) Delete(ctx context.Context, key string) error {
	s.checkHealth()
	if !s.IsHealthy() {
		return fmt.Errorf("cache: redis unavailable (circuit open)")
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("cache: delete: %w", err)
	}
	s.recordSuccess()
	return nil
}

// IncrLLMCallCount atomically increments the LLM call counter for the
// current UTC minute bucket and returns the new count, so the LLM
// adapter can reject calls once config.LLM.RateLimitPerMin is exceeded
// without a round trip per check beyond this single INCR.
func (s *Service) IncrLLMCallCount(ctx context.Context) (int64, error) {
	s.checkHealth()
	if !s.IsHealthy() {
		return 0, fmt.Errorf("cache: redis unavailable (circuit open)")
	}
	bucket := time.Now().UTC().Format("200601021504")
	key := fmt.Sprintf(PrefixLLMRateLimit, bucket)

	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("cache: incr: %w", err)
	}
	if val == 1 {
		s.client.Expire(ctx, key, 90*time.Second)
	}
	s.recordSuccess()
	return val, nil
}

// RegimeOverlayKey builds the cache key for a symbol's regime overlay.
func RegimeOverlayKey(symbol string) string { return fmt.Sprintf(PrefixRegimeOverlay, symbol) }

// MarketSnapshotKey builds the cache key for a symbol/interval snapshot.
func MarketSnapshotKey(symbol, interval string) string {
	return fmt.Sprintf(PrefixMarketSnapshot, symbol, interval)
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Stats summarizes cache health for the operator API's /api/stats.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
}

// GetStats returns current cache statistics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Healthy: s.healthy, FailureCount: s.failureCount, Address: s.cfg.Address}
}
